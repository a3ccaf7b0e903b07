package policy

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kalefund/missiongate/errs"
)

func TestNewEmptyScriptAcceptsAll(t *testing.T) {
	validator, err := New("")
	require.NoError(t, err)
	require.NoError(t, validator.Validate(context.Background(), Proof{User: "alice", Amount: "10"}))
}

func TestScriptValidatorBooleanVerdict(t *testing.T) {
	validator, err := New(`function validate(proof) { return proof.amount !== "0"; }`)
	require.NoError(t, err)

	require.NoError(t, validator.Validate(context.Background(), Proof{User: "alice", Amount: "10"}))

	err = validator.Validate(context.Background(), Proof{User: "alice", Amount: "0"})
	require.True(t, errs.Is(err, errs.CodeUnauthorized))
}

func TestScriptValidatorObjectVerdict(t *testing.T) {
	script := `
function validate(proof) {
    if (proof.kind === "signed") {
        return { ok: true };
    }
    return { ok: false, reason: "unsigned proof" };
}`
	validator, err := New(script)
	require.NoError(t, err)

	require.NoError(t, validator.Validate(context.Background(), Proof{Kind: "signed"}))

	err = validator.Validate(context.Background(), Proof{Kind: "plain"})
	require.True(t, errs.Is(err, errs.CodeUnauthorized))
}

func TestScriptValidatorRequiresValidateExport(t *testing.T) {
	_, err := New(`var x = 1;`)
	require.Error(t, err)
}

func TestScriptValidatorCompileError(t *testing.T) {
	_, err := New(`function validate( {`)
	require.Error(t, err)
}

func TestScriptValidatorThrowIsUnauthorized(t *testing.T) {
	validator, err := New(`function validate(proof) { throw new Error("nope"); }`)
	require.NoError(t, err)

	err = validator.Validate(context.Background(), Proof{})
	require.True(t, errs.Is(err, errs.CodeUnauthorized))
}
