//go:build !debug

// Package debug provides assertions that compile to no-ops in production
// builds and panic loudly when built with the "debug" tag, per the
// state-machine design note that illegal (state, event) pairs must be
// surfaced loudly during development.
/*
 * Copyright (c) 2024, HERMES authors. All rights reserved.
 */
package debug

func ON() bool { return false }

func Assert(_ bool, _...any) {}
func Assertf(_ bool, _ string, _...any) {}
func AssertNoErr(_ error) {}
func Func(_ func()) {}
