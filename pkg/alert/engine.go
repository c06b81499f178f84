package alert

import (
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"gopkg.in/yaml.v2"
	"k8s.io/klog/v2"
)

var validSeverities = map[string]bool{
	"":         true,
	"low":      true,
	"medium":   true,
	"high":     true,
	"critical": true,
}

// Engine evaluates alert rules against verdicts
type Engine struct {
	rules RuleSet

	// compiledPrograms caches compiled expressions for performance
	compiledPrograms map[string]*vm.Program

	// mu protects rules and compiledPrograms
	mu sync.RWMutex
}

// NewEngine creates an engine loaded with DefaultRuleSet
func NewEngine() *Engine {
	return &Engine{
		rules:            DefaultRuleSet(),
		compiledPrograms: make(map[string]*vm.Program),
	}
}

// LoadRules replaces the rules with those in a YAML file
func (e *Engine) LoadRules(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read rule file: %w", err)
	}
	if err := e.LoadRulesFromBytes(data); err != nil {
		return err
	}

	klog.Infof("Loaded %d alert rules from %s", len(e.Rules()), path)
	return nil
}

// LoadRulesFromBytes replaces the rules with those in YAML bytes
func (e *Engine) LoadRulesFromBytes(data []byte) error {
	var ruleSet RuleSet
	if err := yaml.Unmarshal(data, &ruleSet); err != nil {
		return fmt.Errorf("failed to unmarshal rules: %w", err)
	}

	seen := make(map[string]bool, len(ruleSet.Rules))
	for i, r := range ruleSet.Rules {
		if r.Name == "" {
			return fmt.Errorf("rule at index %d has no name", i)
		}
		if seen[r.Name] {
			return fmt.Errorf("duplicate rule name %s", r.Name)
		}
		seen[r.Name] = true

		if r.Condition == "" {
			return fmt.Errorf("rule %s has no condition", r.Name)
		}
		if !validSeverities[r.Severity] {
			return fmt.Errorf("rule %s has invalid severity: %s", r.Name, r.Severity)
		}
		if _, err := compile(r.Condition); err != nil {
			return fmt.Errorf("rule %s: %w", r.Name, err)
		}
	}

	// Sort rules by priority (higher priority first)
	sort.SliceStable(ruleSet.Rules, func(i, j int) bool {
		return ruleSet.Rules[i].Priority > ruleSet.Rules[j].Priority
	})

	e.mu.Lock()
	defer e.mu.Unlock()
	e.rules = ruleSet
	e.compiledPrograms = make(map[string]*vm.Program)
	return nil
}

// Evaluate returns an alert for every enabled rule whose condition matches
func (e *Engine) Evaluate(ctx EvaluationContext) ([]Alert, error) {
	e.mu.RLock()
	rules := e.rules.Rules
	e.mu.RUnlock()

	env := ctx.toExprEnv()

	var alerts []Alert
	for _, rule := range rules {
		if !rule.Enabled {
			continue
		}

		matches, err := e.evaluateCondition(rule.Condition, env)
		if err != nil {
			klog.Warningf("Failed to evaluate alert rule %s for %s: %v", rule.Name, ctx.App, err)
			continue
		}
		if !matches {
			continue
		}

		klog.V(2).Infof("Alert rule %s matched for %s (combined=%.2f)", rule.Name, ctx.App, ctx.Verdict.CombinedScore)

		severity := rule.Severity
		if severity == "" {
			severity = string(ctx.Verdict.Severity)
		}

		alerts = append(alerts, Alert{
			Rule:     rule.Name,
			App:      ctx.App,
			Severity: severity,
			Message:  fmt.Sprintf("Rule '%s' matched for %s: %s", rule.Name, ctx.App, ctx.Verdict.Summary()),
			FiredAt:  ctx.Time,
			Verdict:  ctx.Verdict.Clone(),
		})
	}

	return alerts, nil
}

// evaluateCondition evaluates a rule condition expression
func (e *Engine) evaluateCondition(condition string, env map[string]interface{}) (bool, error) {
	// Check cache first
	e.mu.RLock()
	program, exists := e.compiledPrograms[condition]
	e.mu.RUnlock()

	if !exists {
		compiled, err := compile(condition)
		if err != nil {
			return false, err
		}

		e.mu.Lock()
		e.compiledPrograms[condition] = compiled
		e.mu.Unlock()

		program = compiled
	}

	output, err := expr.Run(program, env)
	if err != nil {
		return false, fmt.Errorf("failed to evaluate condition: %w", err)
	}

	result, ok := output.(bool)
	if !ok {
		return false, fmt.Errorf("condition did not evaluate to boolean: %T", output)
	}
	return result, nil
}

// Rules returns the loaded rules in evaluation order
func (e *Engine) Rules() []Rule {
	e.mu.RLock()
	defer e.mu.RUnlock()

	rules := make([]Rule, len(e.rules.Rules))
	copy(rules, e.rules.Rules)
	return rules
}

// ClearCache clears the compiled expression cache
func (e *Engine) ClearCache() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.compiledPrograms = make(map[string]*vm.Program)
}

// compile type-checks a condition against a representative environment
func compile(condition string) (*vm.Program, error) {
	env := EvaluationContext{}.toExprEnv()
	program, err := expr.Compile(condition, expr.Env(env), expr.AsBool())
	if err != nil {
		return nil, fmt.Errorf("failed to compile condition: %w", err)
	}
	return program, nil
}
