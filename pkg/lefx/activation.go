package lefx

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// ConditionType classifies what an activation rule matches against.
type ConditionType uint8

const (
	CondText ConditionType = iota
	CondSpeaker
	CondLanguage
	CondTime
	CondCustom
)

// MatchOperator selects how a rule's Value is compared against the
// context.
type MatchOperator uint8

const (
	OpEquals MatchOperator = iota
	OpContains
	OpInRange
	OpRegex
)

// Rule is one (condition, operator, value) activation clause, per spec.
type Rule struct {
	Condition ConditionType
	Operator  MatchOperator
	Value     string // for InRange, "min,max" parsed by the matcher
	Weight    float64
	Priority  int
}

// Context is the per-dispatch evaluation input an Activation Manager
// checks rules against.
type Context struct {
	Text               string
	SpeakerID          string
	SpeakerGender      string
	SpeakerAge         float64
	Language           string
	Timestamp          time.Time
	QualityPreference  float64
	PerformanceBudget  float64
	Custom             map[string]string
}

// matchers map a ConditionType to its per-type scoring function, mirroring
// each clause as a pure (rule, context) -> [0,1] score.
var matchers = map[ConditionType]func(Rule, Context) float64{
	CondText:     matchText,
	CondSpeaker:  matchSpeaker,
	CondLanguage: matchLanguage,
	CondTime:     matchTime,
	CondCustom:   matchCustom,
}

func matchOperator(op MatchOperator, value, subject string) float64 {
	switch op {
	case OpEquals:
		if subject == value {
			return 1
		}
		return 0
	case OpContains:
		if strings.Contains(subject, value) {
			return 1
		}
		return 0
	case OpRegex:
		re, err := regexp.Compile(value)
		if err != nil || !re.MatchString(subject) {
			return 0
		}
		return 1
	default:
		return 0
	}
}

func matchText(r Rule, ctx Context) float64 {
	return matchOperator(r.Operator, r.Value, ctx.Text)
}

func matchSpeaker(r Rule, ctx Context) float64 {
	switch r.Operator {
	case OpInRange:
		lo, hi, ok := parseRange(r.Value)
		if !ok {
			return 0
		}
		if ctx.SpeakerAge >= lo && ctx.SpeakerAge <= hi {
			return 1
		}
		return 0
	default:
		if matchOperator(r.Operator, r.Value, ctx.SpeakerID) == 1 {
			return 1
		}
		return matchOperator(r.Operator, r.Value, ctx.SpeakerGender)
	}
}

func matchLanguage(r Rule, ctx Context) float64 {
	return matchOperator(r.Operator, r.Value, ctx.Language)
}

func matchTime(r Rule, ctx Context) float64 {
	if r.Operator != OpInRange {
		return 0
	}
	lo, hi, ok := parseRange(r.Value)
	if !ok {
		return 0
	}
	ts := float64(ctx.Timestamp.Unix())
	if ts >= lo && ts <= hi {
		return 1
	}
	return 0
}

func matchCustom(r Rule, ctx Context) float64 {
	v, ok := ctx.Custom[r.Value]
	if !ok {
		return 0
	}
	return matchOperator(r.Operator, r.Value, v)
}

func parseRange(value string) (lo, hi float64, ok bool) {
	parts := strings.SplitN(value, ",", 2)
	if len(parts) != 2 {
		return 0, 0, false
	}
	lo, err1 := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	hi, err2 := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	return lo, hi, err1 == nil && err2 == nil
}

// Evaluate computes an extension's overall activation weight: the max
// match score across rules, weighted by each matching rule's priority,
// per spec.
func Evaluate(rules []Rule, ctx Context) float64 {
	best := 0.0
	for _, r := range rules {
		matcher, ok := matchers[r.Condition]
		if !ok {
			continue
		}
		score := matcher(r, ctx)
		if score <= 0 {
			continue
		}
		weighted := score * r.Weight * priorityFactor(r.Priority)
		if weighted > best {
			best = weighted
		}
	}
	return best
}

// priorityFactor maps a rule's integer priority to a multiplier of
// 1 + 0.1×priority: priority 0 is neutral (factor 1), and each point
// above/below nudges the rule's influence by 10%, so positive priorities
// give factors above 1.
func priorityFactor(priority int) float64 {
	return 1 + 0.1*float64(priority)
}
