package rules

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"activity-monitor/internal/rbac"

	"gopkg.in/yaml.v3"
)

//go:embed rules.yaml
var defaultRulesYAML []byte

// Name identifies a rule. The set is closed; evaluation dispatches on it.
type Name string

const (
	FailedLoginBurst Name = "failed_login_burst"
	MassDataExport   Name = "mass_data_export"
	APIErrorBurst    Name = "api_error_burst"
	PermissionChange Name = "permission_change"
)

// order is the evaluation order. Catalog files cannot change it.
var order = []Name{FailedLoginBurst, MassDataExport, APIErrorBurst, PermissionChange}

func (n Name) Valid() bool {
	switch n {
	case FailedLoginBurst, MassDataExport, APIErrorBurst, PermissionChange:
		return true
	default:
		return false
	}
}

// Severity is the alert severity a rule assigns when it fires.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Severities lists alert severities from least to most urgent.
var Severities = []Severity{SeverityInfo, SeverityWarning, SeverityHigh, SeverityCritical}

func (s Severity) Valid() bool {
	switch s {
	case SeverityInfo, SeverityWarning, SeverityHigh, SeverityCritical:
		return true
	default:
		return false
	}
}

// Action is an advisory remediation identifier. Nothing here executes it.
type Action string

const (
	ActionBlockIP            Action = "block_ip"
	ActionForcePasswordReset Action = "force_password_reset"
	ActionAlertITTeam        Action = "alert_it_team"
	ActionReviewAPIUsage     Action = "review_api_usage"
	ActionLogAudit           Action = "log_audit"
)

func (a Action) Valid() bool {
	switch a {
	case ActionBlockIP, ActionForcePasswordReset, ActionAlertITTeam, ActionReviewAPIUsage, ActionLogAudit:
		return true
	default:
		return false
	}
}

// Rule is one configured detection rule.
type Rule struct {
	Name      Name
	Enabled   bool
	Condition string
	Severity  Severity
	Actions   []Action

	// Threshold and Window apply to burst rules.
	Threshold int
	Window    time.Duration

	// Cooldown bounds alert deduplication for this rule. Defaults to Window.
	Cooldown time.Duration

	// MinExportMB and ExemptRoles apply to mass_data_export.
	MinExportMB float64
	ExemptRoles []rbac.Role
}

// Exempt reports whether role is excluded from this rule.
func (r Rule) Exempt(role rbac.Role) bool {
	for _, x := range r.ExemptRoles {
		if x == role {
			return true
		}
	}
	return false
}

// Catalog is the immutable, ordered rule set loaded once at startup.
type Catalog struct {
	rules []Rule
}

// Rules returns the rules in evaluation order. The slice is a copy.
func (c Catalog) Rules() []Rule {
	out := make([]Rule, len(c.rules))
	for i, r := range c.rules {
		r.Actions = append([]Action(nil), r.Actions...)
		r.ExemptRoles = append([]rbac.Role(nil), r.ExemptRoles...)
		out[i] = r
	}
	return out
}

func (c Catalog) Get(name Name) (Rule, bool) {
	for _, r := range c.rules {
		if r.Name == name {
			return r, true
		}
	}
	return Rule{}, false
}

type fileSpec struct {
	Rules []ruleSpec `yaml:"rules"`
}

type ruleSpec struct {
	Name        Name          `yaml:"name"`
	Enabled     *bool         `yaml:"enabled"`
	Condition   string        `yaml:"condition"`
	Severity    Severity      `yaml:"severity"`
	Actions     []Action      `yaml:"actions"`
	Threshold   int           `yaml:"threshold"`
	Window      time.Duration `yaml:"window"`
	Cooldown    time.Duration `yaml:"cooldown"`
	MinExportMB float64       `yaml:"min_export_mb"`
	ExemptRoles []rbac.Role   `yaml:"exempt_roles"`
}

// Default returns the embedded catalog.
func Default() (Catalog, error) {
	return Parse(defaultRulesYAML, Catalog{})
}

// MustDefault is Default for tests and wiring that cannot proceed without rules.
func MustDefault() Catalog {
	c, err := Default()
	if err != nil {
		panic(fmt.Sprintf("rules: embedded catalog: %v", err))
	}
	return c
}

// Load returns the embedded catalog, overlaid with the YAML file at path when path is set.
func Load(path string) (Catalog, error) {
	base, err := Default()
	if err != nil {
		return Catalog{}, err
	}
	if strings.TrimSpace(path) == "" {
		return base, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Catalog{}, fmt.Errorf("read rule file: %w", err)
	}
	return Parse(data, base)
}

// Parse overlays the rules in data onto base. Fields left unset in data keep
// their base values. The result is validated as a whole.
func Parse(data []byte, base Catalog) (Catalog, error) {
	var fs fileSpec
	if err := yaml.Unmarshal(data, &fs); err != nil {
		return Catalog{}, fmt.Errorf("parse rule file: %w", err)
	}

	byName := make(map[Name]Rule, len(order))
	for _, r := range base.rules {
		byName[r.Name] = r
	}

	var errs []error
	seen := map[Name]bool{}
	for i, s := range fs.Rules {
		if !s.Name.Valid() {
			errs = append(errs, fmt.Errorf("rules[%d]: unknown rule %q", i, s.Name))
			continue
		}
		if seen[s.Name] {
			errs = append(errs, fmt.Errorf("rules[%d]: duplicate rule %q", i, s.Name))
			continue
		}
		seen[s.Name] = true

		r, ok := byName[s.Name]
		if !ok {
			r = Rule{Name: s.Name, Enabled: true}
		}
		byName[s.Name] = s.overlay(r)
	}

	c := Catalog{rules: make([]Rule, 0, len(order))}
	for _, name := range order {
		r, ok := byName[name]
		if !ok {
			errs = append(errs, fmt.Errorf("rule %q is not configured", name))
			continue
		}
		r = withDefaults(r)
		errs = append(errs, validateRule(r)...)
		c.rules = append(c.rules, r)
	}
	if len(errs) > 0 {
		return Catalog{}, errors.Join(errs...)
	}
	return c, nil
}

func (s ruleSpec) overlay(r Rule) Rule {
	if s.Enabled != nil {
		r.Enabled = *s.Enabled
	}
	if s.Condition != "" {
		r.Condition = strings.TrimSpace(s.Condition)
	}
	if s.Severity != "" {
		r.Severity = Severity(strings.ToLower(string(s.Severity)))
	}
	if len(s.Actions) > 0 {
		r.Actions = append([]Action(nil), s.Actions...)
	}
	if s.Threshold != 0 {
		r.Threshold = s.Threshold
	}
	if s.Window != 0 {
		r.Window = s.Window
	}
	if s.Cooldown != 0 {
		r.Cooldown = s.Cooldown
	}
	if s.MinExportMB != 0 {
		r.MinExportMB = s.MinExportMB
	}
	if len(s.ExemptRoles) > 0 {
		r.ExemptRoles = append([]rbac.Role(nil), s.ExemptRoles...)
	}
	return r
}

func withDefaults(r Rule) Rule {
	if r.Cooldown == 0 {
		r.Cooldown = r.Window
	}
	return r
}

func isBurst(n Name) bool { return n == FailedLoginBurst || n == APIErrorBurst }

func validateRule(r Rule) []error {
	var errs []error
	bad := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("rule %q: "+format, append([]any{r.Name}, args...)...))
	}
	if !r.Severity.Valid() {
		bad("unknown severity %q", r.Severity)
	}
	for _, a := range r.Actions {
		if !a.Valid() {
			bad("unknown action %q", a)
		}
	}
	if isBurst(r.Name) {
		if r.Threshold <= 0 {
			bad("threshold must be > 0")
		}
		if r.Window <= 0 {
			bad("window must be > 0")
		}
	}
	if r.Name == MassDataExport {
		if r.MinExportMB <= 0 {
			bad("min_export_mb must be > 0")
		}
		for _, role := range r.ExemptRoles {
			if _, ok := rbac.ParseRole(string(role)); !ok {
				bad("unknown exempt role %q", role)
			}
		}
	}
	if r.Cooldown < 0 {
		bad("cooldown must not be negative")
	}
	return errs
}
