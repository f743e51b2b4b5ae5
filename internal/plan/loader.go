package plan

import (
	"os"
	"strings"

	"github.com/google/shlex"
	"gopkg.in/yaml.v3"

	"github.com/swarmguard/orch/internal/orcherr"
)

// rawDoc mirrors the YAML document shape before field-level validation —
// yaml.v3 decodes into interface{}-typed maps so every field can be
// individually type/range-checked the way the spec requires, rather than
// relying on yaml.v3's own (lenient) struct-tag coercion. yaml.v3 gives
// nested mappings the same rawDoc type, so parseTask accepts rawDoc as well
// as map[string]any.
type rawDoc map[string]any

// Load reads and validates a plan YAML file at path.
func Load(path string) (*Plan, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, orcherr.PlanWrap(err, "plan file not found: %s", path)
	}
	var doc rawDoc
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, orcherr.PlanWrap(err, "failed to parse yaml")
	}
	if doc == nil {
		return nil, orcherr.Plan("plan root must be a mapping")
	}

	p := &Plan{}
	if goalRaw, ok := doc["goal"]; ok && goalRaw != nil {
		goal, ok := goalRaw.(string)
		if !ok {
			return nil, orcherr.Plan("plan.goal must be string when provided")
		}
		p.Goal = goal
	}
	if dirRaw, ok := doc["artifacts_dir"]; ok && dirRaw != nil {
		dir, ok := dirRaw.(string)
		if !ok {
			return nil, orcherr.Plan("plan.artifacts_dir must be string when provided")
		}
		p.ArtifactsDir = dir
	}

	tasksRaw, ok := doc["tasks"]
	if !ok {
		return nil, orcherr.Plan("plan.tasks must be a list")
	}
	tasksList, ok := tasksRaw.([]any)
	if !ok {
		return nil, orcherr.Plan("plan.tasks must be a list")
	}

	for _, raw := range tasksList {
		t, err := parseTask(raw)
		if err != nil {
			return nil, err
		}
		p.Tasks = append(p.Tasks, t)
	}

	if err := Validate(p); err != nil {
		return nil, err
	}
	return p, nil
}

func parseTask(raw any) (Task, error) {
	var m map[string]any
	switch v := raw.(type) {
	case rawDoc:
		m = v
	case map[string]any:
		m = v
	default:
		return Task{}, orcherr.Plan("task must be mapping")
	}

	idRaw, ok := m["id"]
	id, idOK := idRaw.(string)
	if !ok || !idOK || id == "" {
		return Task{}, orcherr.Plan("task.id is required and must be non-empty string")
	}

	cmdRaw, ok := m["cmd"]
	if !ok {
		return Task{}, orcherr.Plan("task '%s' missing cmd", id)
	}
	cmd, err := normalizeCmd(cmdRaw)
	if err != nil {
		return Task{}, orcherr.Plan("task '%s': %v", id, err)
	}

	retries := 0
	if r, ok := m["retries"]; ok && r != nil {
		n, ok := asNonNegativeInt(r)
		if !ok {
			return Task{}, orcherr.Plan("task '%s' retries must be int >= 0", id)
		}
		retries = n
	}

	var timeoutSec *float64
	if tRaw, ok := m["timeout_sec"]; ok && tRaw != nil {
		v, ok := asRealNumber(tRaw)
		if !ok || v <= 0 {
			return Task{}, orcherr.Plan("task '%s' timeout_sec must be > 0", id)
		}
		timeoutSec = &v
	}

	backoff := []float64{}
	if bRaw, ok := m["retry_backoff_sec"]; ok && bRaw != nil {
		list, ok := bRaw.([]any)
		if !ok {
			return Task{}, orcherr.Plan("task '%s' retry_backoff_sec must be list[number>=0]", id)
		}
		for _, v := range list {
			n, ok := asRealNumber(v)
			if !ok || n < 0 {
				return Task{}, orcherr.Plan("task '%s' retry_backoff_sec must be list[number>=0]", id)
			}
			backoff = append(backoff, n)
		}
	}

	dependsOn, err := asStringList(m["depends_on"])
	if err != nil {
		return Task{}, orcherr.Plan("task '%s' depends_on must be list[str]", id)
	}
	outputs, err := asStringList(m["outputs"])
	if err != nil {
		return Task{}, orcherr.Plan("task '%s' outputs must be list[str]", id)
	}

	cwd := ""
	if cwdRaw, ok := m["cwd"]; ok && cwdRaw != nil {
		s, ok := cwdRaw.(string)
		if !ok || s == "" {
			return Task{}, orcherr.Plan("task '%s' cwd must be non-empty string", id)
		}
		cwd = s
	}

	var env map[string]string
	if envRaw, ok := m["env"]; ok && envRaw != nil {
		var m2 map[string]any
		switch v := envRaw.(type) {
		case rawDoc:
			m2 = v
		case map[string]any:
			m2 = v
		default:
			return Task{}, orcherr.Plan("task '%s' env must be dict[str, str]", id)
		}
		env = make(map[string]string, len(m2))
		for k, v := range m2 {
			s, ok := v.(string)
			if !ok {
				return Task{}, orcherr.Plan("task '%s' env must be dict[str, str]", id)
			}
			env[k] = s
		}
	}

	return Task{
		ID:              id,
		Cmd:             cmd,
		DependsOn:       dependsOn,
		CWD:             cwd,
		Env:             env,
		TimeoutSec:      timeoutSec,
		Retries:         retries,
		RetryBackoffSec: backoff,
		Outputs:         outputs,
	}, nil
}

func normalizeCmd(raw any) ([]string, error) {
	switch v := raw.(type) {
	case string:
		parts, err := shlex.Split(v)
		if err != nil || len(parts) == 0 {
			return nil, orcherr.Plan("cmd string must not be empty")
		}
		return parts, nil
	case []any:
		if len(v) == 0 {
			return nil, orcherr.Plan("cmd must be str or non-empty list[str]")
		}
		out := make([]string, 0, len(v))
		for _, item := range v {
			s, ok := item.(string)
			if !ok || s == "" {
				return nil, orcherr.Plan("cmd must be str or non-empty list[str]")
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, orcherr.Plan("cmd must be str or non-empty list[str]")
	}
}

func asStringList(raw any) ([]string, error) {
	if raw == nil {
		return nil, nil
	}
	list, ok := raw.([]any)
	if !ok {
		return nil, orcherr.Plan("must be list[str]")
	}
	out := make([]string, 0, len(list))
	for _, v := range list {
		s, ok := v.(string)
		if !ok {
			return nil, orcherr.Plan("must be list[str]")
		}
		out = append(out, s)
	}
	return out, nil
}

func asRealNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}

func asNonNegativeInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		if n < 0 {
			return 0, false
		}
		return n, true
	case int64:
		if n < 0 {
			return 0, false
		}
		return int(n), true
	default:
		return 0, false
	}
}

// Validate checks plan-level invariants: at least one task, unique
// (case-insensitive) ids, and every dependency referencing a known id.
func Validate(p *Plan) error {
	if len(p.Tasks) == 0 {
		return orcherr.Plan("plan.tasks must contain at least one task")
	}
	seen := make(map[string]struct{}, len(p.Tasks))
	for _, t := range p.Tasks {
		key := strings.ToLower(t.ID)
		if _, dup := seen[key]; dup {
			return orcherr.Plan("task.id must be unique: %s", t.ID)
		}
		seen[key] = struct{}{}
	}
	for _, t := range p.Tasks {
		for _, dep := range t.DependsOn {
			if _, ok := seen[strings.ToLower(dep)]; !ok {
				return orcherr.Plan("task '%s' has unknown dependency: %s", t.ID, dep)
			}
		}
	}
	return nil
}
