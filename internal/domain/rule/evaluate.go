package rule

// Decision is the outcome of evaluating a rule against a metric value
type Decision string

const (
	// DecisionTriggerNew means the condition holds and no active instance exists
	DecisionTriggerNew Decision = "trigger_new"
	// DecisionAlreadyActive means the condition holds but an instance is already active
	DecisionAlreadyActive Decision = "already_active"
	// DecisionClear means the condition no longer holds for an active instance
	DecisionClear Decision = "clear"
	// DecisionNone means the condition does not hold and nothing is active
	DecisionNone Decision = "none"
)

// Evaluate applies the rule's threshold operator to the current metric value.
// It is a pure function; hasActive reports whether a non-resolved instance
// currently exists for the rule.
func Evaluate(r *AlertRule, value float64, hasActive bool) Decision {
	breached := r.ThresholdOperator.Compare(value, r.ThresholdValue)

	switch {
	case breached && !hasActive:
		return DecisionTriggerNew
	case breached && hasActive:
		return DecisionAlreadyActive
	case !breached && hasActive:
		return DecisionClear
	default:
		return DecisionNone
	}
}
