package engine

import (
	"context"
	"fmt"
	"os"

	"github.com/open-policy-agent/opa/v1/ast"
	"github.com/open-policy-agent/opa/v1/rego"
	"go.uber.org/zap"

	"github.com/shreyash1231/DeviceloginBackendFastApi/internal/security"
)

const (
	policyPackage = "devicelogin.session_revoke"
	allowQuery    = "data." + policyPackage + ".allow"
	AdminRole     = "admin"
)

// Default Rego policy: a caller may revoke its own sessions; admins may revoke anyone's.
// A POLICY_FILE replacement must declare the same package and an allow rule.
const defaultRegoPolicy = `package devicelogin.session_revoke

default allow := false

allow if {
	input.action == "session.force_logout"
	input.caller.subject != ""
	input.caller.subject == input.target.subject
}

allow if {
	input.action == "session.force_logout"
	"admin" in input.caller.roles
}
`

// OPAEvaluator evaluates the revoke policy with an in-process OPA Rego engine.
type OPAEvaluator struct {
	query rego.PreparedEvalQuery
	log   *zap.Logger
}

var _ RevokeAuthorizer = (*OPAEvaluator)(nil)

// NewOPAEvaluator compiles policy (or the default policy when empty) and prepares the allow query.
func NewOPAEvaluator(ctx context.Context, policy string, log *zap.Logger) (*OPAEvaluator, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if policy == "" {
		policy = defaultRegoPolicy
	}
	query, err := prepare(ctx, policy)
	if err != nil {
		return nil, err
	}
	return &OPAEvaluator{query: query, log: log.Named("policy")}, nil
}

// LoadPolicyFile reads a Rego module from path.
func LoadPolicyFile(path string) (string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read policy file: %w", err)
	}
	return string(b), nil
}

func prepare(ctx context.Context, policy string) (rego.PreparedEvalQuery, error) {
	compiler, err := ast.CompileModules(map[string]string{"policy_0.rego": policy})
	if err != nil {
		return rego.PreparedEvalQuery{}, fmt.Errorf("compile policy: %w", err)
	}
	q, err := rego.New(
		rego.Query(allowQuery),
		rego.Compiler(compiler),
	).PrepareForEval(ctx)
	if err != nil {
		return rego.PreparedEvalQuery{}, fmt.Errorf("prepare policy: %w", err)
	}
	return q, nil
}

// HealthCheck evaluates the prepared query against a minimal input. Returns nil on success.
func (e *OPAEvaluator) HealthCheck(ctx context.Context) error {
	_, err := e.eval(ctx, buildInput(security.Identity{}, ""))
	return err
}

// AuthorizeRevoke evaluates the policy. Evaluation failures deny.
func (e *OPAEvaluator) AuthorizeRevoke(ctx context.Context, caller security.Identity, targetSubject string) (bool, error) {
	allowed, err := e.eval(ctx, buildInput(caller, targetSubject))
	if err != nil {
		e.log.Warn("revoke policy evaluation failed, denying",
			zap.String("caller", caller.Subject),
			zap.String("target", targetSubject),
			zap.Error(err),
		)
		return false, err
	}
	return allowed, nil
}

func (e *OPAEvaluator) eval(ctx context.Context, input map[string]interface{}) (bool, error) {
	rs, err := e.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return false, fmt.Errorf("eval policy: %w", err)
	}
	if len(rs) == 0 || len(rs[0].Expressions) == 0 {
		return false, fmt.Errorf("policy query returned no result")
	}
	allowed, ok := rs[0].Expressions[0].Value.(bool)
	if !ok {
		return false, fmt.Errorf("policy allow is %T, want bool", rs[0].Expressions[0].Value)
	}
	return allowed, nil
}

func buildInput(caller security.Identity, targetSubject string) map[string]interface{} {
	roles := make([]interface{}, 0, len(caller.Roles))
	for _, r := range caller.Roles {
		roles = append(roles, r)
	}
	return map[string]interface{}{
		"action": ActionForceLogout,
		"caller": map[string]interface{}{
			"subject": caller.Subject,
			"roles":   roles,
		},
		"target": map[string]interface{}{
			"subject": targetSubject,
		},
	}
}
