package main

import (
	"encoding/hex"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"ubpf/vm"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "ubpfrun",
		Short: "Load and execute raw 64-bit bytecode programs",
	}

	var memPath string
	var maxInstr uint32
	var noBoundsCheck bool

	runCmd := &cobra.Command{
		Use:   "run [program.bin]",
		Short: "Interpret a program and print its R0 result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := loadVM(args[0], maxInstr)
			if err != nil {
				return err
			}
			defer m.Destroy()

			if noBoundsCheck {
				m.ToggleBoundsCheck(false)
			}

			data, err := readMemArg(memPath)
			if err != nil {
				return err
			}

			result, err := m.Exec(data, 0)
			if err != nil {
				return err
			}
			fmt.Printf("0x%x\n", result)
			return nil
		},
	}
	runCmd.Flags().StringVar(&memPath, "mem", "", "path to a file providing the program's data buffer")
	runCmd.Flags().Uint32Var(&maxInstr, "max-instructions", 0, "override the instruction-count ceiling (0 = default)")
	runCmd.Flags().BoolVar(&noBoundsCheck, "no-bounds-check", false, "turn off the VM's bounds-check toggle (the built-in data/stack range test still applies)")

	var jitMem string
	var blind bool
	jitCmd := &cobra.Command{
		Use:   "jit-run [program.bin]",
		Short: "Compile a program to native code and run it through the JIT entry point",
		Long: "Compile a program to native code and run it through the JIT entry point.\n" +
			"The compiled buffer is a real, inspectable x86-64/AArch64 encoding (see\n" +
			"the disasm subcommand), but the entry point itself dispatches through\n" +
			"the interpreter rather than branching into that buffer.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := loadVM(args[0], 0)
			if err != nil {
				return err
			}
			defer m.Destroy()

			if blind {
				m.ToggleConstantBlinding(true)
			}
			if err := m.Compile(); err != nil {
				return fmt.Errorf("compile: %w", err)
			}

			data, err := readMemArg(jitMem)
			if err != nil {
				return err
			}

			result, err := m.RunCompiled(data)
			if err != nil {
				return err
			}
			fmt.Printf("0x%x\n", result)
			return nil
		},
	}
	jitCmd.Flags().StringVar(&jitMem, "mem", "", "path to a file providing the program's data buffer")
	jitCmd.Flags().BoolVar(&blind, "blind-constants", false, "enable constant blinding in the generated code")

	disasmCmd := &cobra.Command{
		Use:   "disasm [program.bin]",
		Short: "Translate a program to native code and dump it as hex",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := loadVM(args[0], 0)
			if err != nil {
				return err
			}
			defer m.Destroy()

			buf := make([]byte, 1<<20)
			n, err := m.Translate(buf)
			if err != nil {
				return fmt.Errorf("translate: %w", err)
			}
			fmt.Println(hex.Dump(buf[:n]))
			return nil
		},
	}

	debugCmd := &cobra.Command{
		Use:   "debug [program.bin]",
		Short: "Interpret a program, printing the pc and R0-R2 before every step",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := loadVM(args[0], 0)
			if err != nil {
				return err
			}
			defer m.Destroy()

			m.RegisterDebugCallout(0, func(cookie uint64, pc uint32, regs *[11]uint64, stack []byte, mask []bool) {
				fmt.Fprintf(os.Stderr, "pc=%d r0=%#x r1=%#x r2=%#x\n", pc, regs[vm.R0], regs[vm.R1], regs[vm.R2])
			})

			data, err := readMemArg(memPath)
			if err != nil {
				return err
			}
			result, err := m.Exec(data, 0)
			if err != nil {
				return err
			}
			fmt.Printf("0x%x\n", result)
			return nil
		},
	}

	rootCmd.AddCommand(runCmd, jitCmd, disasmCmd, debugCmd)
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadVM(path string, maxInstr uint32) (*vm.VM, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	m := vm.New()
	if maxInstr != 0 {
		if err := m.SetMaxInstructions(maxInstr); err != nil {
			return nil, err
		}
	}
	if err := m.Load(raw); err != nil {
		return nil, fmt.Errorf("load: %w", err)
	}
	return m, nil
}

func readMemArg(path string) ([]byte, error) {
	if path == "" {
		return nil, nil
	}
	return os.ReadFile(path)
}
