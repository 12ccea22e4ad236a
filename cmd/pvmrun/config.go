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

package main

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"reflect"
	"unicode"

	"github.com/naoina/toml"
)

// tomlSettings ensures TOML keys use the same names as pvmrunConfig's Go
// struct fields.
var tomlSettings = toml.Config{
	NormFieldName: func(rt reflect.Type, key string) string { return key },
	FieldToKey:    func(rt reflect.Type, field string) string { return field },
	MissingField: func(rt reflect.Type, field string) error {
		var link string
		if unicode.IsUpper(rune(rt.Name()[0])) && rt.PkgPath() != "main" {
			link = fmt.Sprintf(", see https://pkg.go.dev/%s#%s for available fields", rt.PkgPath(), rt.Name())
		}
		return fmt.Errorf("field '%s' is not defined in %s%s", field, rt.String(), link)
	},
}

// pvmrunConfig is the TOML-loadable configuration for a standalone
// interpreter run: the environment-data selectors hostenv.Fetch serves,
// plus the gas budget and entry context a one-shot invocation needs.
type pvmrunConfig struct {
	GasLimit int64
	Context  string // "is-authorized", "refine", "accumulate", "on-transfer"

	ConfigHex       string // hostenv selector 0
	EntropyHex      string // hostenv selector 1
	RecentHashesHex string // hostenv selector 2
	WorkPackageHex  string // hostenv selector 7
}

func defaultConfig() pvmrunConfig {
	return pvmrunConfig{
		GasLimit: 10_000_000,
		Context:  "refine",
	}
}

func loadConfig(file string, cfg *pvmrunConfig) error {
	f, err := os.Open(file)
	if err != nil {
		return err
	}
	defer f.Close()

	err = tomlSettings.NewDecoder(bufio.NewReader(f)).Decode(cfg)
	if _, ok := err.(*toml.LineError); ok {
		err = errors.New(file + ", " + err.Error())
	}
	return err
}
