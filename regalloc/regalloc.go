// Package regalloc implements the linear-scan register allocator: it maps
// virtual registers to physical registers of the active
// calling convention, preferring callee-saved registers for intervals that
// cross a call, and spilling to the stack frame when a class is exhausted.
package regalloc

import (
	"fmt"
	"sort"

	"github.com/tetrazero/codegen/callconv"
	"github.com/tetrazero/codegen/encoder"
	"github.com/tetrazero/codegen/microir"
	"github.com/tetrazero/codegen/pass"
	"github.com/tetrazero/codegen/register"
)

// Pass is the register allocation pass.
type Pass struct{}

// New constructs the register allocation pass.
func New() *Pass { return &Pass{} }

func (p *Pass) Name() string { return "regalloc" }

// interval is one virtual register's liveness record, gathered by a single
// forward scan.
type interval struct {
	reg         register.Reg
	first, last int
	uses        []int // every instruction index reg appears in, ascending
	crossesCall bool
	width       register.Width
}

func (iv *interval) remainingUses(fromIndex int) int {
	n := 0
	for _, u := range iv.uses {
		if u >= fromIndex {
			n++
		}
	}
	return n
}

// assignment is the outcome of allocation for one virtual register: either a
// physical register, or a spill slot on the stack frame.
type assignment struct {
	phys    register.Reg
	spilled bool
	slot    int32 // byte offset below the frame pointer, valid when spilled
	width   register.Width
}

// active tracks one currently-live interval occupying a physical register,
// used for expiry and spill-victim selection.
type active struct {
	iv         *interval
	phys       register.Reg
	persistent bool
}

func (p *Pass) Run(b *microir.Builder, enc encoder.Encoder, ctx *pass.Context) error {
	cc := callconv.Get(ctx.CallConvKind)

	intervals, callSites := scanIntervals(b, enc)
	markCallCrossings(intervals, callSites)

	order := make([]*interval, 0, len(intervals))
	for _, iv := range intervals {
		order = append(order, iv)
	}
	sort.Slice(order, func(i, j int) bool {
		if order[i].first != order[j].first {
			return order[i].first < order[j].first
		}
		return order[i].reg < order[j].reg
	})

	assignments := make(map[register.Reg]*assignment, len(order))
	var nextSpillSlot int32 = 8

	allocState := map[bool]*classState{
		false: newClassState(cc, false),
		true:  newClassState(cc, true),
	}

	for _, iv := range order {
		state := allocState[iv.reg.IsFloat()]
		state.expire(iv.first)

		phys, persistent, ok := state.acquire(iv.crossesCall)
		if !ok {
			victim := state.pickSpillVictim(iv.first)
			if victim == nil {
				return fmt.Errorf("regalloc: no free or spillable register for %s at instruction %d", iv.reg, iv.first)
			}
			state.removeActive(victim)
			assignments[victim.iv.reg] = &assignment{spilled: true, slot: nextSpillSlot, width: victim.iv.width}
			nextSpillSlot += 8
			phys, persistent = victim.phys, victim.persistent
		}

		assignments[iv.reg] = &assignment{phys: phys, width: iv.width}
		state.active = append(state.active, &active{iv: iv, phys: phys, persistent: persistent})
	}

	return rewriteOperands(b, enc, cc, assignments)
}

// classState holds the free and active register pools for one register
// class (int or float) for the duration of allocation.
type classState struct {
	isFloat        bool
	freePersistent []register.Reg
	freeTransient  []register.Reg
	active         []*active
}

func newClassState(cc *callconv.CallConv, isFloat bool) *classState {
	pool := cc.IntRegs
	reserved := reservedScratch(false)
	if isFloat {
		pool = cc.FloatRegs
		reserved = reservedScratch(true)
	}
	cs := &classState{isFloat: isFloat}
	for _, r := range pool {
		if r == reserved[0] || r == reserved[1] {
			continue // held back for spill load/store traffic, never allocated.
		}
		if cc.IsPersistent(r) {
			cs.freePersistent = append(cs.freePersistent, r)
		} else {
			cs.freeTransient = append(cs.freeTransient, r)
		}
	}
	return cs
}

// expire returns every active interval whose last use precedes currentIndex
// to the appropriate free pool.
func (cs *classState) expire(currentIndex int) {
	kept := cs.active[:0]
	for _, a := range cs.active {
		if a.iv.last < currentIndex {
			if a.persistent {
				cs.freePersistent = append(cs.freePersistent, a.phys)
			} else {
				cs.freeTransient = append(cs.freeTransient, a.phys)
			}
			continue
		}
		kept = append(kept, a)
	}
	cs.active = kept
}

// acquire pops a physical register from the preferred pool for an interval
// with the given call-crossing status.
func (cs *classState) acquire(crossesCall bool) (register.Reg, bool, bool) {
	first, second := &cs.freeTransient, &cs.freePersistent
	firstPersistent, secondPersistent := false, true
	if crossesCall {
		first, second = &cs.freePersistent, &cs.freeTransient
		firstPersistent, secondPersistent = true, false
	}
	if len(*first) > 0 {
		r := (*first)[0]
		*first = (*first)[1:]
		return r, firstPersistent, true
	}
	if len(*second) > 0 {
		r := (*second)[0]
		*second = (*second)[1:]
		return r, secondPersistent, true
	}
	return register.Invalid, false, false
}

// pickSpillVictim selects the active interval to evict: latest lastUse,
// tie-broken by most remaining uses from currentIndex, tie-broken again by
// higher virtual register index.
func (cs *classState) pickSpillVictim(currentIndex int) *active {
	var victim *active
	for _, a := range cs.active {
		switch {
		case victim == nil:
			victim = a
		case a.iv.last > victim.iv.last:
			victim = a
		case a.iv.last == victim.iv.last:
			ar, vr := a.iv.remainingUses(currentIndex), victim.iv.remainingUses(currentIndex)
			if ar > vr || (ar == vr && a.iv.reg > victim.iv.reg) {
				victim = a
			}
		}
	}
	return victim
}

func (cs *classState) removeActive(target *active) {
	kept := cs.active[:0]
	for _, a := range cs.active {
		if a != target {
			kept = append(kept, a)
		}
	}
	cs.active = kept
}

// reservedScratch names the two physical registers per class held back from
// the allocatable pool and used exclusively to stage spilled operands
// through the stack frame. R10/R11 are caller-saved scratch registers under
// both System-V and Microsoft x64; XMM14/XMM15 are the float analog.
func reservedScratch(isFloat bool) [2]register.Reg {
	if isFloat {
		return [2]register.Reg{register.Xmm(14), register.Xmm(15)}
	}
	return [2]register.Reg{register.R10reg, register.R11reg}
}

// scanIntervals performs the single forward liveness scan and returns
// every virtual register's interval plus the instruction indices of every
// call site.
func scanIntervals(b *microir.Builder, enc encoder.Encoder) (map[register.Reg]*interval, []int) {
	intervals := make(map[register.Reg]*interval)
	var callSites []int

	touch := func(r register.Reg, i int, width register.Width) {
		if !r.IsVirtual() {
			return
		}
		iv, ok := intervals[r]
		if !ok {
			iv = &interval{reg: r, first: i, last: i, width: width}
			intervals[r] = iv
		}
		if i < iv.first {
			iv.first = i
		}
		if i > iv.last {
			iv.last = i
		}
		iv.uses = append(iv.uses, i)
	}

	for i := 0; i < b.Len(); i++ {
		ins := b.InstrAt(i)
		if isCallKind(ins.Kind) {
			callSites = append(callSites, i)
		}
		defs, uses := enc.UpdateRegUseDef(b, i)
		w := firstWidth(b.Operands(i))
		for _, r := range defs {
			touch(r, i, w)
		}
		for _, r := range uses {
			touch(r, i, w)
		}
	}
	return intervals, callSites
}

func isCallKind(k microir.Kind) bool {
	switch k {
	case microir.KindCallReg, microir.KindCallRel, microir.KindCallExtern, microir.KindTrampolineLoadAndCall:
		return true
	default:
		return false
	}
}

func firstWidth(ops []microir.Operand) register.Width {
	for _, op := range ops {
		if op.Kind == microir.OperandWidth {
			return op.Width
		}
	}
	return register.B64
}

// markCallCrossings flags every interval that spans a call site strictly
// between its first and last appearance.
func markCallCrossings(intervals map[register.Reg]*interval, callSites []int) {
	for _, iv := range intervals {
		for _, c := range callSites {
			if c > iv.first && c < iv.last {
				iv.crossesCall = true
				break
			}
		}
	}
}

// rewriteOperands finishes allocation: every virtual operand is
// replaced by its assigned physical register; spilled virtuals are staged
// through a reserved scratch register with a load before each use and a
// store after each def, addressed off the call-conv's frame pointer.
func rewriteOperands(b *microir.Builder, enc encoder.Encoder, cc *callconv.CallConv, assignments map[register.Reg]*assignment) error {
	for i := 0; i < b.Len(); i++ {
		defs, uses := enc.UpdateRegUseDef(b, i)
		ops := b.Operands(i)
		// scratchSlot alternates between the two reserved scratch registers
		// of a class, which covers every instruction shape this core emits
		// (at most a dst and a src of the same class spilled at once).
		scratchSlot := 0

		for j := 0; j < len(ops); j++ {
			op := ops[j]
			if op.Kind != microir.OperandReg || !op.Reg.IsVirtual() {
				continue
			}
			asg, ok := assignments[op.Reg]
			if !ok {
				return fmt.Errorf("regalloc: virtual register %s has no assignment at instruction %d", op.Reg, i)
			}
			if !asg.spilled {
				b.SetOperand(i, j, regOp(asg.phys))
				continue
			}

			reserved := reservedScratch(op.Reg.IsFloat())
			scratch := reserved[scratchSlot%2]
			scratchSlot++

			isUse := containsReg(uses, op.Reg)
			isDef := containsReg(defs, op.Reg)
			disp := -asg.slot

			if isUse {
				i = b.InsertBefore(i, []microir.Instr{{Kind: microir.KindLoadRegMem}},
					[][]microir.Operand{{regOp(scratch), regOp(cc.FramePointer), immI32Op(disp), widthOp(asg.width)}})
				ops = b.Operands(i)
			}
			b.SetOperand(i, j, regOp(scratch))
			if isDef {
				b.InsertBefore(i+1, []microir.Instr{{Kind: microir.KindLoadMemReg}},
					[][]microir.Operand{{regOp(cc.FramePointer), immI32Op(disp), regOp(scratch), widthOp(asg.width)}})
			}
		}
	}
	return nil
}

func containsReg(regs []register.Reg, r register.Reg) bool {
	for _, x := range regs {
		if x == r {
			return true
		}
	}
	return false
}

func regOp(r register.Reg) microir.Operand        { return microir.Operand{Kind: microir.OperandReg, Reg: r} }
func immI32Op(v int32) microir.Operand             { return microir.Operand{Kind: microir.OperandImmI32, ImmI32: v} }
func widthOp(w register.Width) microir.Operand      { return microir.Operand{Kind: microir.OperandWidth, Width: w} }
