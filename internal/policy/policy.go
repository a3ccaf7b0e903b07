// Package policy evaluates contribution proofs. The default policy accepts
// everything; deployments can attach a JavaScript validator instead.
package policy

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/dop251/goja"

	"github.com/kalefund/missiongate/errs"
)

// Proof carries the evidence submitted with a contribution.
type Proof struct {
	User      string         `json:"user"`
	MissionID uint64         `json:"missionId"`
	Amount    string         `json:"amount"`
	Kind      string         `json:"kind,omitempty"`
	Payload   map[string]any `json:"payload,omitempty"`
}

// Validator decides whether a contribution proof is acceptable.
type Validator interface {
	Validate(ctx context.Context, proof Proof) error
}

// AcceptAll approves every proof.
type AcceptAll struct{}

// Validate always succeeds.
func (AcceptAll) Validate(context.Context, Proof) error { return nil }

// New returns a validator for the configured script. An empty script means
// every proof is accepted.
func New(script string) (Validator, error) {
	if strings.TrimSpace(script) == "" {
		return AcceptAll{}, nil
	}
	return NewScriptValidator(script)
}

// ScriptValidator evaluates proofs with a JavaScript `validate(proof)`
// function. The function returns a boolean, or an object with `ok` and an
// optional `reason`.
type ScriptValidator struct {
	mu sync.Mutex
	rt *goja.Runtime
	fn goja.Callable
}

var _ Validator = (*ScriptValidator)(nil)

// NewScriptValidator compiles the script and binds its validate export.
func NewScriptValidator(script string) (*ScriptValidator, error) {
	rt := goja.New()
	if _, err := rt.RunString(script); err != nil {
		return nil, fmt.Errorf("proof policy: compile script: %w", err)
	}
	value := rt.Get("validate")
	callable, ok := goja.AssertFunction(value)
	if !ok {
		return nil, fmt.Errorf("proof policy: script must define validate(proof)")
	}
	return &ScriptValidator{rt: rt, fn: callable}, nil
}

// Validate runs the script against the proof. The runtime is single-threaded,
// so calls serialize on the validator.
func (v *ScriptValidator) Validate(ctx context.Context, proof Proof) error {
	if ctx != nil {
		select {
		case <-ctx.Done():
			return fmt.Errorf("proof policy context: %w", ctx.Err())
		default:
		}
	}
	v.mu.Lock()
	defer v.mu.Unlock()

	result, err := v.fn(goja.Undefined(), v.rt.ToValue(map[string]any{
		"user":      proof.User,
		"missionId": proof.MissionID,
		"amount":    proof.Amount,
		"kind":      proof.Kind,
		"payload":   proof.Payload,
	}))
	if err != nil {
		return errs.New("policy", errs.CodeUnauthorized,
			errs.WithMessage("proof validation threw"),
			errs.WithCause(err))
	}
	ok, reason := interpretVerdict(result)
	if !ok {
		opts := []errs.Option{errs.WithMessage("proof rejected")}
		if reason != "" {
			opts = append(opts, errs.WithField("reason", reason))
		}
		return errs.New("policy", errs.CodeUnauthorized, opts...)
	}
	return nil
}

func interpretVerdict(value goja.Value) (bool, string) {
	if value == nil || goja.IsUndefined(value) || goja.IsNull(value) {
		return false, "no verdict"
	}
	if obj, ok := value.Export().(map[string]any); ok {
		verdict, _ := obj["ok"].(bool)
		reason, _ := obj["reason"].(string)
		return verdict, reason
	}
	return value.ToBoolean(), ""
}
