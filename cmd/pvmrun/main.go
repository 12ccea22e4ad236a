// Copyright 2024 The PVM Authors
// This file is part of the PVM core.
//
// The PVM core is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The PVM core is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the PVM core. If not, see <http://www.gnu.org/licenses/>.

// Command pvmrun loads a PVM program blob and either disassembles it, runs
// it to completion against a reference HostEnvironment, or replays a
// conformance fixture file.
package main

import (
	"encoding/hex"
	"fmt"
	"os"

	"github.com/davecgh/go-spew/spew"
	"github.com/inconshreveable/log15"
	"gopkg.in/urfave/cli.v1"

	"github.com/probechain/pvm/internal/fixtures"
	"github.com/probechain/pvm/internal/hostenv"
	"github.com/probechain/pvm/pvm"
)

var log = log15.New("module", "pvmrun")

var (
	configFileFlag = cli.StringFlag{
		Name:  "config",
		Usage: "TOML configuration file",
	}
	gasFlag = cli.Int64Flag{
		Name:  "gas",
		Usage: "gas budget for the run",
		Value: 10_000_000,
	}
	entryFlag = cli.StringFlag{
		Name:  "entry",
		Usage: "entry point: is-authorized, accumulate, refine, on-transfer",
		Value: "refine",
	}
	traceFlag = cli.BoolFlag{
		Name:  "trace",
		Usage: "print a per-instruction trace to stderr",
	}
	debugFlag = cli.BoolFlag{
		Name:  "debug",
		Usage: "dump full machine state via go-spew on exit",
	}
)

func main() {
	app := cli.NewApp()
	app.Name = "pvmrun"
	app.Usage = "run and inspect Polka Virtual Machine program blobs"
	app.Flags = []cli.Flag{configFileFlag}
	app.Commands = []cli.Command{
		runCommand,
		disasmCommand,
		fixturesCommand,
	}

	if err := app.Run(os.Args); err != nil {
		log.Error("pvmrun failed", "err", err)
		os.Exit(1)
	}
}

var runCommand = cli.Command{
	Name:      "run",
	Usage:     "decode and execute a program blob",
	ArgsUsage: "<program.blob>",
	Flags:     []cli.Flag{gasFlag, entryFlag, traceFlag, debugFlag},
	Action:    runAction,
}

var disasmCommand = cli.Command{
	Name:      "disasm",
	Usage:     "disassemble a program blob",
	ArgsUsage: "<program.blob>",
	Action:    disasmAction,
}

var fixturesCommand = cli.Command{
	Name:      "fixtures",
	Usage:     "replay a conformance fixture file",
	ArgsUsage: "<fixtures.json>",
	Action:    fixturesAction,
}

func entryPoint(name string) (pvm.EntryPoint, error) {
	switch name {
	case "is-authorized":
		return pvm.EntryIsAuthorized, nil
	case "accumulate":
		return pvm.EntryAccumulate, nil
	case "refine":
		return pvm.EntryRefine, nil
	case "on-transfer":
		return pvm.EntryOnTransfer, nil
	default:
		return 0, fmt.Errorf("unknown entry point %q", name)
	}
}

func contextFor(entry pvm.EntryPoint) pvm.Context {
	switch entry {
	case pvm.EntryIsAuthorized:
		return pvm.ContextIsAuthorized
	case pvm.EntryRefine:
		return pvm.ContextRefine
	default:
		return pvm.ContextAccumulate
	}
}

func loadProgram(path string) (*pvm.Program, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	blob := raw
	if decoded, err := hex.DecodeString(string(raw)); err == nil {
		// Accept both raw binary blobs and hex-encoded text files.
		blob = decoded
	}
	return pvm.Decode(blob)
}

func runAction(ctx *cli.Context) error {
	if ctx.NArg() < 1 {
		return fmt.Errorf("usage: pvmrun run [flags] <program.blob>")
	}
	var cfg pvmrunConfig
	if file := ctx.GlobalString(configFileFlag.Name); file != "" {
		loaded, err := loadDefaultedConfig(file)
		if err != nil {
			return err
		}
		cfg = loaded
	} else {
		cfg = defaultConfig()
	}

	entryName := ctx.String(entryFlag.Name)
	if !ctx.IsSet(entryFlag.Name) {
		entryName = cfg.Context
	}
	entry, err := entryPoint(entryName)
	if err != nil {
		return err
	}

	prog, err := loadProgram(ctx.Args().Get(0))
	if err != nil {
		return fmt.Errorf("decode: %w", err)
	}

	gas := ctx.Int64(gasFlag.Name)
	if gas == 0 || !ctx.IsSet(gasFlag.Name) {
		gas = cfg.GasLimit
	}

	env := hostenv.New(gas, hexOrNil(cfg.ConfigHex), hexOrNil(cfg.EntropyHex), hexOrNil(cfg.RecentHashesHex), hexOrNil(cfg.WorkPackageHex))

	s, err := pvm.NewState(prog, entry, contextFor(entry), gas, nil)
	if err != nil {
		return err
	}
	s.Host = env

	var trace pvm.Trace
	if ctx.Bool(traceFlag.Name) {
		trace = func(s *pvm.State, pc uint32, op pvm.Opcode) {
			ev := pvm.Snapshot(s, pc, op)
			fmt.Fprintf(os.Stderr, "pc=%#06x op=%s gas=%d regs=%v\n", ev.PC, ev.Op, ev.Gas, ev.Registers)
		}
	}

	status := pvm.Run(s, 0, trace)
	res := pvm.Finalize(s, gas)
	log.Info("run finished", "status", status, "pc", s.PC, "gasUsed", res.GasUsed)

	if ctx.Bool(debugFlag.Name) {
		spew.Fdump(os.Stderr, s)
	}

	fmt.Printf("status: %s\n", status)
	fmt.Printf("pc: %#x\n", s.PC)
	fmt.Printf("gas used: %d\n", res.GasUsed)
	fmt.Printf("registers: %v\n", s.Registers)
	if len(res.Output) > 0 {
		fmt.Printf("output: %x\n", res.Output)
	}
	for i, seg := range res.Exports {
		fmt.Printf("export[%d]: %x\n", i, seg)
	}
	return nil
}

func hexOrNil(s string) []byte {
	if s == "" {
		return nil
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil
	}
	return b
}

func loadDefaultedConfig(file string) (pvmrunConfig, error) {
	cfg := defaultConfig()
	if err := loadConfig(file, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func disasmAction(ctx *cli.Context) error {
	if ctx.NArg() < 1 {
		return fmt.Errorf("usage: pvmrun disasm <program.blob>")
	}
	prog, err := loadProgram(ctx.Args().Get(0))
	if err != nil {
		return fmt.Errorf("decode: %w", err)
	}
	for _, in := range pvm.Disassemble(prog) {
		fmt.Println(in.String())
	}
	return nil
}

func fixturesAction(ctx *cli.Context) error {
	if ctx.NArg() < 1 {
		return fmt.Errorf("usage: pvmrun fixtures <fixtures.json>")
	}
	f, err := os.Open(ctx.Args().Get(0))
	if err != nil {
		return err
	}
	defer f.Close()

	vecs, err := fixtures.Load(f)
	if err != nil {
		return err
	}
	results := fixtures.RunAll(vecs, 0)

	failures := 0
	for _, r := range results {
		if r.Passed {
			fmt.Printf("PASS %s\n", r.Name)
			continue
		}
		failures++
		fmt.Printf("FAIL %s\n", r.Name)
		for _, m := range r.Mismatches {
			fmt.Printf("  %s\n", m)
		}
	}
	fmt.Printf("%d/%d passed\n", len(results)-failures, len(results))
	if failures > 0 {
		return fmt.Errorf("%d fixture(s) failed", failures)
	}
	return nil
}
