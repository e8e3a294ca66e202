package hir

import (
	"fmt"
	"math"

	"github.com/vamodel/valc/internal/diag"
	"github.com/vamodel/valc/internal/mir"
	"github.com/vamodel/valc/internal/va"
)

// ResolveError summarizes a failed resolution. The individual findings
// are in the diagnostics sink; the error exists so callers can stop
// the pipeline for this module without inspecting the sink.
type ResolveError struct {
	Module string
	Count  int
}

func (e *ResolveError) Error() string {
	return fmt.Sprintf("module %s: resolution failed with %d error(s)", e.Module, e.Count)
}

// Resolve binds every identifier in src to exactly one declaration and
// produces the typed module. All findings go to sink; a non-nil error
// means at least one was fatal and the module must not be lowered.
func Resolve(src *va.Module, sink *diag.Sink) (*Module, error) {
	r := &resolver{
		src:      src,
		sink:     sink,
		m:        &Module{Name: src.Name, Span: src.Span},
		nodes:    make(map[string]mir.NodeID),
		branches: make(map[string]mir.BranchID),
		params:   make(map[string]mir.ParamID),
		declared: make(map[string]diag.Span),
	}
	before := sink.ErrorCount()
	r.run()
	if n := sink.ErrorCount() - before; n > 0 {
		return nil, &ResolveError{Module: src.Name, Count: n}
	}
	return r.m, nil
}

type resolver struct {
	src  *va.Module
	sink *diag.Sink
	m    *Module

	nodes    map[string]mir.NodeID
	branches map[string]mir.BranchID
	params   map[string]mir.ParamID
	declared map[string]diag.Span // module-scope namespace

	// scopes is the variable scope stack; index 0 is module scope.
	scopes []map[string]VarID
}

func (r *resolver) errorf(span diag.Span, format string, args ...any) {
	r.sink.Error(r.src.Name, span, format, args...)
}

func (r *resolver) warnf(span diag.Span, format string, args ...any) {
	r.sink.Warn(r.src.Name, span, format, args...)
}

// declare registers a module-scope name, rejecting re-declaration.
func (r *resolver) declare(name string, span diag.Span) bool {
	if prev, ok := r.declared[name]; ok {
		r.errorf(span, "%s is already declared at %s", name, prev)
		return false
	}
	r.declared[name] = span
	return true
}

func (r *resolver) run() {
	headerPorts := make(map[string]bool, len(r.src.Ports))
	for _, p := range r.src.Ports {
		headerPorts[p] = true
	}

	// Pass 1: nodes. Discipline declarations create nodes; header
	// ports without one get the default electrical discipline.
	for _, item := range r.src.Items {
		d, ok := item.(*va.DisciplineDecl)
		if !ok {
			continue
		}
		for _, name := range d.Names {
			if id, exists := r.nodes[name]; exists {
				if r.m.Nodes[id].Discipline != "" {
					r.errorf(d.Span, "%s is already declared", name)
					continue
				}
				r.m.Nodes[id].Discipline = d.Discipline
				continue
			}
			if !r.declare(name, d.Span) {
				continue
			}
			r.m.Nodes = append(r.m.Nodes, mir.Node{
				Name:       name,
				Discipline: d.Discipline,
				Port:       headerPorts[name],
			})
			r.nodes[name] = mir.NodeID(len(r.m.Nodes) - 1)
		}
	}
	for _, p := range r.src.Ports {
		if _, ok := r.nodes[p]; ok {
			continue
		}
		if !r.declare(p, r.src.Span) {
			continue
		}
		r.m.Nodes = append(r.m.Nodes, mir.Node{Name: p, Discipline: "electrical", Port: true})
		r.nodes[p] = mir.NodeID(len(r.m.Nodes) - 1)
	}

	// Pass 2: remaining declarations in source order.
	r.scopes = []map[string]VarID{make(map[string]VarID)}
	var analog *va.AnalogBlock
	for _, item := range r.src.Items {
		switch it := item.(type) {
		case *va.DisciplineDecl:
			// handled in pass 1
		case *va.PortDecl:
			for _, name := range it.Names {
				if _, ok := r.nodes[name]; !ok {
					r.errorf(it.Span, "port direction for undeclared port %s", name)
				} else if !headerPorts[name] {
					r.errorf(it.Span, "%s is not listed in the module port header", name)
				}
			}
		case *va.BranchDecl:
			r.resolveBranchDecl(it)
		case *va.ParamDecl:
			r.resolveParam(it)
		case *va.VarDecl:
			r.resolveVarDecl(it)
		case *va.AnalogBlock:
			if analog != nil {
				r.errorf(it.Span, "module %s has more than one analog block", r.src.Name)
				continue
			}
			analog = it
		}
	}

	if analog != nil {
		r.m.Analog = r.resolveStmt(analog.Body)
	}
}

func (r *resolver) lookupNode(name string, span diag.Span) (mir.NodeID, bool) {
	if id, ok := r.nodes[name]; ok {
		return id, true
	}
	r.errorf(span, "unresolved node %s", name)
	return 0, false
}

func (r *resolver) resolveBranchDecl(d *va.BranchDecl) {
	if !r.declare(d.Name, d.Span) {
		return
	}
	hi, ok := r.lookupNode(d.Hi, d.Span)
	if !ok {
		return
	}
	lo := mir.GroundNode
	if d.Lo != "" {
		lo, ok = r.lookupNode(d.Lo, d.Span)
		if !ok {
			return
		}
	}
	if hi == lo {
		r.errorf(d.Span, "branch %s connects node %s to itself", d.Name, d.Hi)
		return
	}
	r.branches[d.Name] = r.m.ensureBranch(d.Name, hi, lo)
}

func (r *resolver) resolveParam(d *va.ParamDecl) {
	if !r.declare(d.Name, d.Span) {
		return
	}
	var ty mir.Type
	switch d.Type {
	case va.TypeReal:
		ty = mir.TypeReal
	case va.TypeInteger:
		ty = mir.TypeInt
	default:
		r.errorf(d.Span, "parameter %s: string parameters are not supported", d.Name)
		return
	}

	def, ok := r.constEval(d.Default)
	if !ok {
		r.errorf(d.Span, "parameter %s: default must be a constant expression over literals and earlier parameters", d.Name)
		return
	}
	p := mir.Param{Name: d.Name, Ty: ty, Default: def, Unit: d.Unit, Desc: d.Desc}

	for _, rc := range d.Ranges {
		rng, ok := r.resolveRange(d.Name, rc)
		if !ok {
			continue
		}
		p.Ranges = append(p.Ranges, rng)
		// Out-of-range defaults are accepted, only flagged. No clamping
		// happens at evaluation time.
		if !rng.Contains(def) {
			r.warnf(rc.Span, "parameter %s: default %g violates its declared range", d.Name, def)
		}
	}

	r.m.Params = append(r.m.Params, p)
	r.params[d.Name] = mir.ParamID(len(r.m.Params) - 1)
}

func (r *resolver) resolveRange(param string, rc va.RangeConstraint) (mir.Range, bool) {
	if rc.Exclude {
		v, ok := r.constEval(rc.Lo.Value)
		if !ok {
			r.errorf(rc.Span, "parameter %s: exclude value must be constant", param)
			return mir.Range{}, false
		}
		return mir.Range{Exclude: true, Lo: v}, true
	}
	lo, hi := math.Inf(-1), math.Inf(1)
	if !rc.Lo.Unbounded {
		v, ok := r.constEval(rc.Lo.Value)
		if !ok {
			r.errorf(rc.Span, "parameter %s: range bound must be constant", param)
			return mir.Range{}, false
		}
		lo = v
	}
	if !rc.Hi.Unbounded {
		v, ok := r.constEval(rc.Hi.Value)
		if !ok {
			r.errorf(rc.Span, "parameter %s: range bound must be constant", param)
			return mir.Range{}, false
		}
		hi = v
	}
	if lo > hi {
		r.errorf(rc.Span, "parameter %s: empty range [%g:%g]", param, lo, hi)
		return mir.Range{}, false
	}
	return mir.Range{Lo: lo, Hi: hi, LoInc: rc.Lo.Inclusive, HiInc: rc.Hi.Inclusive}, true
}

// constEval folds an expression over literals and already-resolved
// parameter defaults. It is intentionally small: anything it cannot
// fold is simply "not constant".
func (r *resolver) constEval(e va.Expr) (float64, bool) {
	switch x := e.(type) {
	case *va.NumberLit:
		return x.Value, true
	case *va.Ref:
		if id, ok := r.params[x.Name]; ok {
			return r.m.Params[id].Default, true
		}
		return 0, false
	case *va.Unary:
		v, ok := r.constEval(x.X)
		if !ok {
			return 0, false
		}
		if x.Op == "-" {
			return -v, true
		}
		return 0, false
	case *va.Binary:
		a, ok := r.constEval(x.X)
		if !ok {
			return 0, false
		}
		b, ok := r.constEval(x.Y)
		if !ok {
			return 0, false
		}
		switch x.Op {
		case "+":
			return a + b, true
		case "-":
			return a - b, true
		case "*":
			return a * b, true
		case "/":
			if b == 0 {
				return 0, false
			}
			return a / b, true
		case "**":
			return math.Pow(a, b), true
		}
		return 0, false
	case *va.Call:
		if b, ok := mir.LookupBuiltin(x.Name); ok && b.Arity() == len(x.Args) && b.HasDerivative() {
			args := make([]float64, len(x.Args))
			for i, arg := range x.Args {
				v, ok := r.constEval(arg)
				if !ok {
					return 0, false
				}
				args[i] = v
			}
			return b.Eval(args), true
		}
		return 0, false
	default:
		return 0, false
	}
}

func (r *resolver) resolveVarDecl(d *va.VarDecl) {
	scope := r.scopes[len(r.scopes)-1]
	var ty mir.Type
	switch d.Type {
	case va.TypeReal:
		ty = mir.TypeReal
	case va.TypeInteger:
		ty = mir.TypeInt
	default:
		r.errorf(d.Span, "string variables are not supported")
		return
	}
	for _, name := range d.Names {
		if len(r.scopes) == 1 {
			if !r.declare(name, d.Span) {
				continue
			}
		} else if _, dup := scope[name]; dup {
			r.errorf(d.Span, "%s is already declared in this scope", name)
			continue
		}
		r.m.Vars = append(r.m.Vars, Var{Name: name, Ty: ty})
		scope[name] = VarID(len(r.m.Vars) - 1)
	}
}

func (r *resolver) lookupVar(name string) (VarID, bool) {
	for i := len(r.scopes) - 1; i >= 0; i-- {
		if id, ok := r.scopes[i][name]; ok {
			return id, true
		}
	}
	return 0, false
}

func (r *resolver) resolveStmt(s va.Stmt) Stmt {
	switch x := s.(type) {
	case *va.Block:
		r.scopes = append(r.scopes, make(map[string]VarID))
		defer func() { r.scopes = r.scopes[:len(r.scopes)-1] }()
		for _, d := range x.Decls {
			r.resolveVarDecl(d)
		}
		blk := &Block{}
		for _, st := range x.Stmts {
			if rs := r.resolveStmt(st); rs != nil {
				blk.Stmts = append(blk.Stmts, rs)
			}
		}
		return blk
	case *va.If:
		return &If{
			Cond: r.coerceBool(r.resolveExpr(x.Cond)),
			Then: r.resolveStmt(x.Then),
			Else: r.resolveOptStmt(x.Else),
			Span: x.Span,
		}
	case *va.Assign:
		return r.resolveAssign(x)
	case *va.Contribution:
		br, ok := r.resolveBranchRef(x.Ref)
		if !ok {
			return nil
		}
		return &Contribution{
			Access: x.Access,
			Branch: br,
			Rhs:    r.resolveExpr(x.Rhs),
			Span:   x.Span,
		}
	case *va.For:
		init := r.resolveAssign(x.Init)
		step := r.resolveAssign(x.Step)
		if init == nil || step == nil {
			return nil
		}
		return &For{
			Init: init,
			Cond: r.coerceBool(r.resolveExpr(x.Cond)),
			Step: step,
			Body: r.resolveStmt(x.Body),
			Span: x.Span,
		}
	case *va.While:
		return &While{
			Cond: r.coerceBool(r.resolveExpr(x.Cond)),
			Body: r.resolveStmt(x.Body),
			Span: x.Span,
		}
	case *va.Repeat:
		return &Repeat{
			Count: r.resolveExpr(x.Count),
			Body:  r.resolveStmt(x.Body),
			Span:  x.Span,
		}
	case *va.SysCallStmt:
		switch x.Name {
		case "$strobe", "$display", "$monitor", "$debug":
			// Display tasks have no analog semantics; dropping them is
			// the documented behavior, the warning keeps authors aware.
			r.warnf(x.Span, "%s has no effect in compiled models and is ignored", x.Name)
			return nil
		case "$finish", "$stop":
			r.warnf(x.Span, "%s is ignored: simulation control is owned by the simulator", x.Name)
			return nil
		default:
			r.errorf(x.Span, "unsupported system task %s", x.Name)
			return nil
		}
	default:
		return nil
	}
}

func (r *resolver) resolveOptStmt(s va.Stmt) Stmt {
	if s == nil {
		return nil
	}
	return r.resolveStmt(s)
}

func (r *resolver) resolveAssign(a *va.Assign) *Assign {
	id, ok := r.lookupVar(a.Name)
	if !ok {
		r.errorf(a.Span, "unresolved variable %s", a.Name)
		return nil
	}
	return &Assign{Var: id, Rhs: r.resolveExpr(a.Rhs), Span: a.Span}
}

// resolveBranchRef disambiguates a single-name reference: declared
// branch first, then node-to-ground.
func (r *resolver) resolveBranchRef(ref va.BranchRef) (mir.BranchID, bool) {
	if ref.Lo == "" {
		if id, ok := r.branches[ref.Hi]; ok {
			return id, true
		}
		hi, ok := r.lookupNode(ref.Hi, ref.Span)
		if !ok {
			return 0, false
		}
		return r.m.ensureBranch("", hi, mir.GroundNode), true
	}
	hi, ok := r.lookupNode(ref.Hi, ref.Span)
	if !ok {
		return 0, false
	}
	lo, ok := r.lookupNode(ref.Lo, ref.Span)
	if !ok {
		return 0, false
	}
	if hi == lo {
		r.errorf(ref.Span, "branch access connects node %s to itself", ref.Hi)
		return 0, false
	}
	return r.m.ensureBranch("", hi, lo), true
}

// errExpr is the poison expression used after a reported error so
// resolution can continue collecting diagnostics.
func (r *resolver) errExpr(span diag.Span) Expr {
	return &Const{Val: 0, Ty: mir.TypeReal, Span: span}
}

func (r *resolver) coerceBool(e Expr) Expr {
	if e.Type() == mir.TypeBool {
		return e
	}
	return &Binary{
		Op:   mir.BinNe,
		X:    e,
		Y:    &Const{Val: 0, Ty: e.Type(), Span: e.ExprSpan()},
		Ty:   mir.TypeBool,
		Span: e.ExprSpan(),
	}
}

func (r *resolver) resolveExpr(e va.Expr) Expr {
	switch x := e.(type) {
	case *va.NumberLit:
		ty := mir.TypeReal
		if x.IsInt {
			ty = mir.TypeInt
		}
		return &Const{Val: x.Value, Ty: ty, Span: x.Span}
	case *va.StringLit:
		r.errorf(x.Span, "string literal is only valid as a noise source label or limit function name")
		return r.errExpr(x.Span)
	case *va.Ref:
		if id, ok := r.lookupVar(x.Name); ok {
			return &VarRef{ID: id, Ty: r.m.Vars[id].Ty, Span: x.Span}
		}
		if id, ok := r.params[x.Name]; ok {
			return &ParamRef{ID: id, Ty: r.m.Params[id].Ty, Span: x.Span}
		}
		if _, ok := r.nodes[x.Name]; ok {
			r.errorf(x.Span, "node %s cannot be used as a value; probe it with V() or I()", x.Name)
		} else {
			r.errorf(x.Span, "unresolved identifier %s", x.Name)
		}
		return r.errExpr(x.Span)
	case *va.Unary:
		inner := r.resolveExpr(x.X)
		if x.Op == "!" {
			return &Unary{Op: mir.UnNot, X: r.coerceBool(inner), Ty: mir.TypeBool, Span: x.Span}
		}
		return &Unary{Op: mir.UnNeg, X: inner, Ty: inner.Type(), Span: x.Span}
	case *va.Binary:
		return r.resolveBinary(x)
	case *va.Ternary:
		then := r.resolveExpr(x.Then)
		els := r.resolveExpr(x.Else)
		ty := then.Type()
		if ty != els.Type() {
			ty = mir.TypeReal
		}
		return &Ternary{
			Cond: r.coerceBool(r.resolveExpr(x.Cond)),
			Then: then,
			Else: els,
			Ty:   ty,
			Span: x.Span,
		}
	case *va.Probe:
		br, ok := r.resolveBranchRef(x.Ref)
		if !ok {
			return r.errExpr(x.Span)
		}
		if x.Access == va.AccessFlow {
			r.errorf(x.Span, "flow probes in expressions are not supported")
			return r.errExpr(x.Span)
		}
		return &Probe{Access: x.Access, Branch: br, Span: x.Span}
	case *va.Call:
		return r.resolveCall(x)
	case *va.SysCall:
		return r.resolveSysCall(x)
	default:
		return r.errExpr(diag.Span{})
	}
}

func binOpFor(op string) (mir.BinOp, bool) {
	switch op {
	case "+":
		return mir.BinAdd, true
	case "-":
		return mir.BinSub, true
	case "*":
		return mir.BinMul, true
	case "/":
		return mir.BinDiv, true
	case "%":
		return mir.BinRem, true
	case "**":
		return mir.BinPow, true
	case "<":
		return mir.BinLt, true
	case "<=":
		return mir.BinLe, true
	case ">":
		return mir.BinGt, true
	case ">=":
		return mir.BinGe, true
	case "==":
		return mir.BinEq, true
	case "!=":
		return mir.BinNe, true
	case "&&":
		return mir.BinAnd, true
	case "||":
		return mir.BinOr, true
	}
	return 0, false
}

func (r *resolver) resolveBinary(x *va.Binary) Expr {
	op, ok := binOpFor(x.Op)
	if !ok {
		r.errorf(x.Span, "unsupported operator %q", x.Op)
		return r.errExpr(x.Span)
	}
	a := r.resolveExpr(x.X)
	b := r.resolveExpr(x.Y)
	switch op {
	case mir.BinAnd, mir.BinOr:
		return &Binary{Op: op, X: r.coerceBool(a), Y: r.coerceBool(b), Ty: mir.TypeBool, Span: x.Span}
	case mir.BinLt, mir.BinLe, mir.BinGt, mir.BinGe, mir.BinEq, mir.BinNe:
		return &Binary{Op: op, X: a, Y: b, Ty: mir.TypeBool, Span: x.Span}
	default:
		ty := mir.TypeReal
		if a.Type() == mir.TypeInt && b.Type() == mir.TypeInt && op != mir.BinDiv && op != mir.BinPow {
			ty = mir.TypeInt
		}
		return &Binary{Op: op, X: a, Y: b, Ty: ty, Span: x.Span}
	}
}

func (r *resolver) resolveCall(x *va.Call) Expr {
	switch x.Name {
	case "white_noise":
		if len(x.Args) < 1 || len(x.Args) > 2 {
			r.errorf(x.Span, "white_noise expects (pwr) or (pwr, name)")
			return r.errExpr(x.Span)
		}
		name := ""
		if len(x.Args) == 2 {
			lit, ok := x.Args[1].(*va.StringLit)
			if !ok {
				r.errorf(x.Span, "white_noise name must be a string literal")
				return r.errExpr(x.Span)
			}
			name = lit.Value
		}
		return &Noise{Kind: mir.NoiseWhite, Args: []Expr{r.resolveExpr(x.Args[0])}, Name: name, Span: x.Span}
	case "flicker_noise":
		if len(x.Args) < 2 || len(x.Args) > 3 {
			r.errorf(x.Span, "flicker_noise expects (pwr, exp) or (pwr, exp, name)")
			return r.errExpr(x.Span)
		}
		name := ""
		if len(x.Args) == 3 {
			lit, ok := x.Args[2].(*va.StringLit)
			if !ok {
				r.errorf(x.Span, "flicker_noise name must be a string literal")
				return r.errExpr(x.Span)
			}
			name = lit.Value
		}
		return &Noise{
			Kind: mir.NoiseFlicker,
			Args: []Expr{r.resolveExpr(x.Args[0]), r.resolveExpr(x.Args[1])},
			Name: name,
			Span: x.Span,
		}
	case "ddt":
		if len(x.Args) != 1 {
			r.errorf(x.Span, "ddt expects exactly one argument")
			return r.errExpr(x.Span)
		}
		return &Ddt{Arg: r.resolveExpr(x.Args[0]), Span: x.Span}
	}

	b, ok := mir.LookupBuiltin(x.Name)
	if !ok {
		r.errorf(x.Span, "unresolved function %s", x.Name)
		return r.errExpr(x.Span)
	}
	if ar := b.Arity(); ar >= 0 && len(x.Args) != ar {
		r.errorf(x.Span, "%s expects %d argument(s), found %d", x.Name, ar, len(x.Args))
		return r.errExpr(x.Span)
	} else if ar < 0 && len(x.Args) == 0 {
		r.errorf(x.Span, "%s expects at least one argument", x.Name)
		return r.errExpr(x.Span)
	}
	args := make([]Expr, len(x.Args))
	for i, a := range x.Args {
		args[i] = r.resolveExpr(a)
	}
	return &CallBuiltin{Fn: b, Args: args, Span: x.Span}
}

func (r *resolver) resolveSysCall(x *va.SysCall) Expr {
	switch x.Name {
	case "$temperature":
		if len(x.Args) != 0 {
			r.errorf(x.Span, "$temperature takes no arguments")
		}
		return &Temperature{Span: x.Span}
	case "$limit":
		if len(x.Args) < 2 {
			r.errorf(x.Span, "$limit expects (probe, \"function\", args...)")
			return r.errExpr(x.Span)
		}
		probe, ok := x.Args[0].(*va.Probe)
		if !ok || probe.Access != va.AccessPotential {
			r.errorf(x.Span, "$limit first argument must be a potential probe")
			return r.errExpr(x.Span)
		}
		fn, ok := x.Args[1].(*va.StringLit)
		if !ok {
			r.errorf(x.Span, "$limit second argument must be the limiting function name")
			return r.errExpr(x.Span)
		}
		args := []Expr{r.resolveExpr(probe)}
		for _, a := range x.Args[2:] {
			args = append(args, r.resolveExpr(a))
		}
		return &Limit{Fn: fn.Value, Args: args, Span: x.Span}
	default:
		r.errorf(x.Span, "unsupported system function %s", x.Name)
		return r.errExpr(x.Span)
	}
}
