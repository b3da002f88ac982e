package vm

import "fmt"

// cp15Path packs (CRn, opc1, CRm, opc2) into one map key, mirroring the
// original's CRn<<12|opc1<<8|CRm<<4|opc2 nibble path (original_source/cp15.c).
type cp15Path uint16

func makeCP15Path(crn, opc1, crm, opc2 uint8) cp15Path {
	return cp15Path(uint16(crn)<<12 | uint16(opc1)<<8 | uint16(crm)<<4 | uint16(opc2))
}

// CP15 models the ARM system-control coprocessor as a read-only register
// file addressed by (CRn, opc1, CRm, opc2), with alias support (spec §4.8
// / §6).
type CP15 struct {
	registers map[cp15Path]uint32
	aliases   map[cp15Path]cp15Path
}

// NewCP15 returns a CP15 pre-populated with the minimum contents spec §6
// names: TPIDRURO, MIDR (pretending to be a Cortex-A7), TLBTR, and the
// 0x0004/0x0006/0x0007 aliases to MIDR.
func NewCP15() *CP15 {
	c := &CP15{
		registers: make(map[cp15Path]uint32),
		aliases:   make(map[cp15Path]cp15Path),
	}
	const (
		tpidrURO = 0xD003
		midr     = 0x0000
		tlbtr    = 0x0003
	)
	c.create(tpidrURO, 0x80000000)
	c.create(midr, 0x410FC073)
	c.create(tlbtr, 0x00000000)
	c.alias(0x0004, midr)
	c.alias(0x0006, midr)
	c.alias(0x0007, midr)
	return c
}

func (c *CP15) create(path cp15Path, value uint32) {
	c.registers[path] = value
}

func (c *CP15) alias(aliasPath, actualPath cp15Path) {
	c.aliases[aliasPath] = actualPath
}

// Read implements the CP15 read path (spec §6): read(size, CRn, opc1, CRm,
// opc2) -> u32. An unconfigured path is fatal, matching the original's
// abort() on a missing CRn/opc1/CRm/opc2 node.
func (c *CP15) Read(crn, opc1, crm, opc2 uint8) (uint32, error) {
	path := makeCP15Path(crn, opc1, crm, opc2)
	if actual, ok := c.aliases[path]; ok {
		path = actual
	}
	v, ok := c.registers[path]
	if !ok {
		return 0, faultf(FaultUndefined, 0, "CP15 has no register at CRn=%d opc1=%d CRm=%d opc2=%d", crn, opc1, crm, opc2)
	}
	return v, nil
}

// Accept reports whether CP15 should handle a given MRC/MCR instruction
// word. The original leaves this permissive ("Maybe should be more
// selective than this" - original_source/cp15.c cp15_accept) and a more
// selective rule is architecturally unspecified by the spec's Open
// Questions (§9); this preserves the permissive behavior rather than
// guessing.
func (c *CP15) Accept(_ uint32) bool {
	return true
}

// Configure applies config-file overrides (SPEC_FULL §2 [cp15] section),
// letting tests and the CLI install extra register values beyond the
// built-in minimum set.
func (c *CP15) Configure(overrides map[string]uint32) error {
	for path, value := range overrides {
		var crn, opc1, crm, opc2 uint8
		if _, err := fmt.Sscanf(path, "%x:%x:%x:%x", &crn, &opc1, &crm, &opc2); err != nil {
			return fmt.Errorf("cp15: invalid register path %q: %w", path, err)
		}
		c.create(makeCP15Path(crn, opc1, crm, opc2), value)
	}
	return nil
}
