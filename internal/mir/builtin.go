package mir

import "math"

// Builtin enumerates the analog built-in functions. The set is closed:
// differentiation switches over it exhaustively, so adding a builtin
// means extending the table below and the derivative rules in the
// deriv package together.
type Builtin uint8

const (
	BuiltinExp Builtin = iota
	BuiltinLn
	BuiltinLog10
	BuiltinSqrt
	BuiltinSin
	BuiltinCos
	BuiltinTan
	BuiltinASin
	BuiltinACos
	BuiltinATan
	BuiltinATan2
	BuiltinSinH
	BuiltinCosH
	BuiltinTanH
	BuiltinPow
	BuiltinMin
	BuiltinMax
	BuiltinAbs
	BuiltinFloor
	BuiltinCeil
	BuiltinHypot
	// BuiltinTransition and BuiltinAbsDelay shape waveforms over time.
	// They are recognized and evaluated as pass-throughs in DC, but no
	// derivative rule is registered: demanding one is a fatal
	// diagnostic naming the function.
	BuiltinTransition
	BuiltinAbsDelay
)

type builtinInfo struct {
	name     string
	arity    int // -1: 1 or more (variadic tail args ignored in eval)
	hasDeriv bool
	eval     func(args []float64) float64
}

var builtins = [...]builtinInfo{
	BuiltinExp:   {"exp", 1, true, func(a []float64) float64 { return math.Exp(a[0]) }},
	BuiltinLn:    {"ln", 1, true, func(a []float64) float64 { return math.Log(a[0]) }},
	BuiltinLog10: {"log", 1, true, func(a []float64) float64 { return math.Log10(a[0]) }},
	BuiltinSqrt:  {"sqrt", 1, true, func(a []float64) float64 { return math.Sqrt(a[0]) }},
	BuiltinSin:   {"sin", 1, true, func(a []float64) float64 { return math.Sin(a[0]) }},
	BuiltinCos:   {"cos", 1, true, func(a []float64) float64 { return math.Cos(a[0]) }},
	BuiltinTan:   {"tan", 1, true, func(a []float64) float64 { return math.Tan(a[0]) }},
	BuiltinASin:  {"asin", 1, true, func(a []float64) float64 { return math.Asin(a[0]) }},
	BuiltinACos:  {"acos", 1, true, func(a []float64) float64 { return math.Acos(a[0]) }},
	BuiltinATan:  {"atan", 1, true, func(a []float64) float64 { return math.Atan(a[0]) }},
	BuiltinATan2: {"atan2", 2, true, func(a []float64) float64 { return math.Atan2(a[0], a[1]) }},
	BuiltinSinH:  {"sinh", 1, true, func(a []float64) float64 { return math.Sinh(a[0]) }},
	BuiltinCosH:  {"cosh", 1, true, func(a []float64) float64 { return math.Cosh(a[0]) }},
	BuiltinTanH:  {"tanh", 1, true, func(a []float64) float64 { return math.Tanh(a[0]) }},
	BuiltinPow:   {"pow", 2, true, func(a []float64) float64 { return math.Pow(a[0], a[1]) }},
	BuiltinMin:   {"min", 2, true, func(a []float64) float64 { return math.Min(a[0], a[1]) }},
	BuiltinMax:   {"max", 2, true, func(a []float64) float64 { return math.Max(a[0], a[1]) }},
	BuiltinAbs:   {"abs", 1, true, func(a []float64) float64 { return math.Abs(a[0]) }},
	BuiltinFloor: {"floor", 1, true, func(a []float64) float64 { return math.Floor(a[0]) }},
	BuiltinCeil:  {"ceil", 1, true, func(a []float64) float64 { return math.Ceil(a[0]) }},
	BuiltinHypot: {"hypot", 2, true, func(a []float64) float64 { return math.Hypot(a[0], a[1]) }},

	BuiltinTransition: {"transition", -1, false, func(a []float64) float64 { return a[0] }},
	BuiltinAbsDelay:   {"absdelay", -1, false, func(a []float64) float64 { return a[0] }},
}

var builtinByName = func() map[string]Builtin {
	m := make(map[string]Builtin, len(builtins))
	for b, info := range builtins {
		m[info.name] = Builtin(b)
	}
	return m
}()

// LookupBuiltin resolves a function name to its builtin, if any.
func LookupBuiltin(name string) (Builtin, bool) {
	b, ok := builtinByName[name]
	return b, ok
}

// String implements fmt.Stringer.
func (b Builtin) String() string { return builtins[b].name }

// Arity returns the required argument count, or -1 for "one or more".
func (b Builtin) Arity() int { return builtins[b].arity }

// HasDerivative reports whether a derivative rule is registered.
func (b Builtin) HasDerivative() bool { return builtins[b].hasDeriv }

// Eval applies the builtin's evaluation rule.
func (b Builtin) Eval(args []float64) float64 { return builtins[b].eval(args) }
