package pipeline

import (
	"fmt"
	"net/url"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"go.uber.org/zap"
)

// ExprGate allows a post when a boolean expression over its originating URL
// holds. The expression sees url, host, path and scheme, for example
// `host in ["x.com", "twitter.com"] && path != "/settings"`.
type ExprGate struct {
	source  string
	program *vm.Program
	logger  *zap.Logger
}

func NewExprGate(expression string, logger *zap.Logger) (*ExprGate, error) {
	if expression == "" {
		expression = "true"
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	program, err := expr.Compile(expression, expr.Env(gateEnv(&url.URL{}, "")), expr.AsBool())
	if err != nil {
		return nil, fmt.Errorf("invalid gate expression: %w", err)
	}

	return &ExprGate{source: expression, program: program, logger: logger}, nil
}

// Allow reports whether the pipeline should run for rawURL. URLs that do not
// parse and expressions that fail at runtime are rejected.
func (g *ExprGate) Allow(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		g.logger.Debug("gate rejected unparsable url", zap.String("url", rawURL), zap.Error(err))
		return false
	}

	out, err := expr.Run(g.program, gateEnv(u, rawURL))
	if err != nil {
		g.logger.Warn("gate expression failed", zap.String("expr", g.source), zap.Error(err))
		return false
	}

	allowed, _ := out.(bool)
	return allowed
}

func gateEnv(u *url.URL, raw string) map[string]interface{} {
	return map[string]interface{}{
		"url":    raw,
		"host":   u.Hostname(),
		"path":   u.Path,
		"scheme": u.Scheme,
	}
}
