// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Command framebridge is built with -buildmode=c-shared and loaded by the
// host. The host identifies each instance by an opaque pointer and calls
// the exported plugin_* functions; nothing here ever dereferences those
// pointers.
//
// Configuration comes from the file named by FRAMEBRIDGE_CONFIG and
// FRAMEBRIDGE_* environment variables.
package main

/*
#include <stdint.h>
*/
import "C"

import (
	"unsafe"

	"github.com/aughey/framebridge/internal/registry"
)

var lib = newLibrary(openBridge)

func handleOf(p unsafe.Pointer) registry.Handle {
	return registry.Handle(uintptr(p))
}

//export framebridge_initialize
func framebridge_initialize() { //nolint:revive // C ABI name
	lib.initialize()
}

//export plugin_constructor
func plugin_constructor(p unsafe.Pointer) { //nolint:revive // C ABI name
	lib.construct(handleOf(p))
}

//export plugin_destructor
func plugin_destructor(p unsafe.Pointer) { //nolint:revive // C ABI name
	lib.destroy(handleOf(p))
}

//export plugin_on_initialize
func plugin_on_initialize(p unsafe.Pointer) { //nolint:revive // C ABI name
	lib.notifyInitialize(handleOf(p))
}

//export plugin_on_frame
func plugin_on_frame(p, iface unsafe.Pointer) { //nolint:revive // C ABI name
	lib.frame(handleOf(p), readState(iface), shutdownFunc(iface))
}

//export plugin_on_exit
func plugin_on_exit(p unsafe.Pointer) { //nolint:revive // C ABI name
	lib.notifyExit(handleOf(p))
}

//export framebridge_shutdown
func framebridge_shutdown() { //nolint:revive // C ABI name
	lib.shutdown()
}
