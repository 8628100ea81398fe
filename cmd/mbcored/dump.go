package main

import (
	"encoding/binary"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	modbus "github.com/edgeo-scada/modbus-core"
)

var dumpCmd = &cobra.Command{
	Use:   "dump <snapshot>",
	Short: "Inspect a persisted context snapshot",
	Long: `Dump reads a context snapshot file, prints the bank capacities from
its header, and lists every cell holding a non-zero value.`,
	Args: cobra.ExactArgs(1),
	RunE: runDump,
}

func runDump(cmd *cobra.Command, args []string) error {
	blob, err := os.ReadFile(args[0])
	if err != nil {
		return err
	}
	if len(blob) < 16 {
		return fmt.Errorf("%s: too short to carry a snapshot header", args[0])
	}

	// The header states the capacities, so the snapshot is self-describing.
	coils := int(binary.BigEndian.Uint32(blob[0:4]))
	discretes := int(binary.BigEndian.Uint32(blob[4:8]))
	inputs := int(binary.BigEndian.Uint32(blob[8:12]))
	holdings := int(binary.BigEndian.Uint32(blob[12:16]))

	mctx := modbus.NewContextSized(coils, discretes, inputs, holdings)
	if err := mctx.Restore(blob); err != nil {
		return fmt.Errorf("%s: %w", args[0], err)
	}

	fmt.Printf("Capacities: coils=%d discretes=%d inputs=%d holdings=%d\n",
		coils, discretes, inputs, holdings)

	// One gate acquisition for the whole sweep.
	return mctx.Atomic(func(g *modbus.Guard) error {
		printBits := func(label string, bank *modbus.BitBank) {
			for addr := 0; addr < bank.Size(); addr++ {
				if v, err := bank.Get(uint16(addr)); err == nil && v {
					fmt.Printf("%s[%d] = true\n", label, addr)
				}
			}
		}
		printWords := func(label string, bank *modbus.WordBank) {
			for addr := 0; addr < bank.Size(); addr++ {
				if v, err := bank.Get(uint16(addr)); err == nil && v != 0 {
					fmt.Printf("%s[%d] = %d (0x%04X)\n", label, addr, v, v)
				}
			}
		}

		printBits("coil", g.Coils())
		printBits("discrete", g.Discretes())
		printWords("input", g.Inputs())
		printWords("holding", g.Holdings())
		return nil
	})
}
