package testutil

// OpKind identifies which fdtable operation an Op represents.
type OpKind int

const (
	OpInitEmptyCage OpKind = iota
	OpAllocate
	OpSetSpecific
	OpSetCloexec
	OpSetAux
	OpTranslate
	OpClose
	OpFork
	OpExec
	OpExit
)

// Op is one generated fdtable call. Only the fields relevant to Kind are
// populated; the rest are zero.
type Op struct {
	Kind        OpKind
	CageID      uint64
	ChildCageID uint64
	V           uint64
	RealFD      uint64
	Cloexec     bool
	Aux         uint64
}

// OpGenConfig configures the operation generator's relative rates.
// Rates need not sum to 100; NextOp normalizes against their total.
type OpGenConfig struct {
	AllocateRate    int
	SetSpecificRate int
	SetCloexecRate  int
	SetAuxRate      int
	TranslateRate   int
	CloseRate       int
	ForkRate        int
	ExecRate        int
	ExitRate        int
	NewCageRate     int
}

// DefaultOpGenConfig returns a balanced configuration biased toward
// allocate/translate/close, the three operations exercised most heavily
// in real usage.
func DefaultOpGenConfig() OpGenConfig {
	return OpGenConfig{
		AllocateRate:    30,
		SetSpecificRate: 10,
		SetCloexecRate:  10,
		SetAuxRate:      10,
		TranslateRate:   15,
		CloseRate:       15,
		ForkRate:        5,
		ExecRate:        3,
		ExitRate:        2,
		NewCageRate:     10,
	}
}

// OpGenerator produces a deterministic sequence of Ops from a byte
// stream, tracking enough bookkeeping of its own (live cage ids, next
// unused cage id, a small pool of realfd values to reuse across
// allocations so sharing/refcounting paths actually get exercised) to
// keep the generated sequence mostly meaningful rather than mostly
// immediate errors.
type OpGenerator struct {
	stream *ByteStream
	config OpGenConfig

	liveCages  []uint64
	nextCageID uint64
	realFDPool []uint64
}

// NewOpGenerator creates a generator seeded from seedBytes.
func NewOpGenerator(seedBytes []byte, cfg OpGenConfig) *OpGenerator {
	return &OpGenerator{
		stream:     NewByteStream(seedBytes),
		config:     cfg,
		nextCageID: 1,
		realFDPool: []uint64{100, 101, 102, 103, 104},
	}
}

// HasMore reports whether more operations can be generated.
func (g *OpGenerator) HasMore() bool {
	return g.stream.HasMore()
}

// NextOp generates the next operation, biasing toward cage ids and
// virtual/real descriptors already in play so that most generated
// sequences exercise sharing and lifecycle transitions instead of
// bouncing off ErrBadFD/ErrBadF immediately.
func (g *OpGenerator) NextOp() Op {
	if len(g.liveCages) == 0 {
		return g.genNewCage()
	}

	total := g.config.AllocateRate + g.config.SetSpecificRate + g.config.SetCloexecRate +
		g.config.SetAuxRate + g.config.TranslateRate + g.config.CloseRate +
		g.config.ForkRate + g.config.ExecRate + g.config.ExitRate + g.config.NewCageRate
	if total <= 0 {
		total = 1
	}

	choice := g.stream.NextInt(total)
	cumulative := 0

	cumulative += g.config.NewCageRate
	if choice < cumulative {
		return g.genNewCage()
	}

	cumulative += g.config.AllocateRate
	if choice < cumulative {
		return g.genAllocate()
	}

	cumulative += g.config.SetSpecificRate
	if choice < cumulative {
		return g.genSetSpecific()
	}

	cumulative += g.config.SetCloexecRate
	if choice < cumulative {
		return g.genSetCloexec()
	}

	cumulative += g.config.SetAuxRate
	if choice < cumulative {
		return g.genSetAux()
	}

	cumulative += g.config.TranslateRate
	if choice < cumulative {
		return g.genTranslate()
	}

	cumulative += g.config.CloseRate
	if choice < cumulative {
		return g.genClose()
	}

	cumulative += g.config.ForkRate
	if choice < cumulative {
		return g.genFork()
	}

	cumulative += g.config.ExecRate
	if choice < cumulative {
		return g.genExec()
	}

	return g.genExit()
}

func (g *OpGenerator) pickCage() uint64 {
	return g.liveCages[g.stream.NextInt(len(g.liveCages))]
}

func (g *OpGenerator) pickRealFD() uint64 {
	return g.realFDPool[g.stream.NextInt(len(g.realFDPool))]
}

func (g *OpGenerator) genNewCage() Op {
	id := g.nextCageID
	g.nextCageID++
	g.liveCages = append(g.liveCages, id)

	return Op{Kind: OpInitEmptyCage, CageID: id}
}

func (g *OpGenerator) genAllocate() Op {
	return Op{
		Kind:    OpAllocate,
		CageID:  g.pickCage(),
		RealFD:  g.pickRealFD(),
		Cloexec: g.stream.NextBool(),
		Aux:     uint64(g.stream.NextByte()),
	}
}

func (g *OpGenerator) genSetSpecific() Op {
	return Op{
		Kind:    OpSetSpecific,
		CageID:  g.pickCage(),
		V:       uint64(g.stream.NextInt(64)),
		RealFD:  g.pickRealFD(),
		Cloexec: g.stream.NextBool(),
		Aux:     uint64(g.stream.NextByte()),
	}
}

func (g *OpGenerator) genSetCloexec() Op {
	return Op{
		Kind:    OpSetCloexec,
		CageID:  g.pickCage(),
		V:       uint64(g.stream.NextInt(64)),
		Cloexec: g.stream.NextBool(),
	}
}

func (g *OpGenerator) genSetAux() Op {
	return Op{
		Kind:   OpSetAux,
		CageID: g.pickCage(),
		V:      uint64(g.stream.NextInt(64)),
		Aux:    uint64(g.stream.NextByte()),
	}
}

func (g *OpGenerator) genTranslate() Op {
	return Op{Kind: OpTranslate, CageID: g.pickCage(), V: uint64(g.stream.NextInt(64))}
}

func (g *OpGenerator) genClose() Op {
	return Op{Kind: OpClose, CageID: g.pickCage(), V: uint64(g.stream.NextInt(64))}
}

func (g *OpGenerator) genFork() Op {
	parent := g.pickCage()
	child := g.nextCageID
	g.nextCageID++
	g.liveCages = append(g.liveCages, child)

	return Op{Kind: OpFork, CageID: parent, ChildCageID: child}
}

func (g *OpGenerator) genExec() Op {
	return Op{Kind: OpExec, CageID: g.pickCage()}
}

func (g *OpGenerator) genExit() Op {
	idx := g.stream.NextInt(len(g.liveCages))
	cageid := g.liveCages[idx]
	g.liveCages = append(g.liveCages[:idx], g.liveCages[idx+1:]...)

	return Op{Kind: OpExit, CageID: cageid}
}
