package app

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"rivalbot/internal/compose"
	"rivalbot/internal/config"
	"rivalbot/internal/counter"
	"rivalbot/internal/rivalry"
	logx "rivalbot/pkg/logx"
)

// CheckResult is one line of the setup check.
type CheckResult struct {
	Name   string `json:"name"`
	OK     bool   `json:"ok"`
	Detail string `json:"detail,omitempty"`
}

// Check reaches every external collaborator once. It never takes a baseline
// and never delivers anything. cfg must already be validated.
func Check(ctx context.Context, cfg *config.Config, log logx.Logger) []CheckResult {
	var out []CheckResult
	add := func(name string, err error, detail string) {
		r := CheckResult{Name: name, OK: err == nil, Detail: detail}
		if err != nil {
			r.Detail = err.Error()
		}
		out = append(out, r)
	}

	reg, err := buildRegistry(cfg)
	if err != nil {
		add("rivalries", err, "")
	} else {
		add("rivalries", nil, describeRivalries(reg))
	}

	if reg != nil && reg.Len() > 0 {
		e := reg.All()[0]
		n, err := checkSource(ctx, cfg, log, e)
		switch {
		case errors.Is(err, counter.ErrNoData):
			add("source", nil, fmt.Sprintf("reachable; no statistics yet for %s", e.Name))
		case err != nil:
			add("source", err, "")
		default:
			add("source", nil, fmt.Sprintf("%s has %d %s", e.Name, n, e.Kind.Activity()))
		}
	}

	comp := compose.New(cfg.Composer, log)
	if v, ok := comp.(interface{ Verify(context.Context) error }); ok {
		add("composer", v.Verify(ctx), "openai completion ok")
	} else {
		add("composer", nil, "template")
	}

	path, err := exec.LookPath(cfg.Actor.Command)
	add("actor", err, path)
	return out
}

func checkSource(ctx context.Context, cfg *config.Config, log logx.Logger, e rivalry.Entity) (int64, error) {
	opts, err := mapCounterOptions(cfg, log)
	if err != nil {
		return 0, err
	}
	src, err := counter.NewAPIFootball(opts)
	if err != nil {
		return 0, err
	}
	return src.Count(ctx, e)
}

func describeRivalries(reg *rivalry.Registry) string {
	parts := make([]string, 0, reg.Len())
	for _, e := range reg.All() {
		parts = append(parts, fmt.Sprintf("%s (%s) -> @%s", e.Name, e.Kind, e.Recipient))
	}
	return strings.Join(parts, "; ")
}
