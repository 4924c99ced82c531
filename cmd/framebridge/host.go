// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

/*
#include <stddef.h>
#include <stdint.h>

// Host accessors. Weak so the library still loads into a host that lacks
// one; a missing accessor reads as zero.
extern void interface_shutdown(void *iface) __attribute__((weak));
extern const char *interface_get_name(void *iface) __attribute__((weak));
extern uint64_t interface_get_frame(void *iface) __attribute__((weak));
extern double interface_get_position_x(void *iface) __attribute__((weak));
extern double interface_get_position_y(void *iface) __attribute__((weak));
extern double interface_get_position_z(void *iface) __attribute__((weak));

static void fb_shutdown(void *iface) {
	if (interface_shutdown) interface_shutdown(iface);
}
static const char *fb_name(void *iface) {
	return interface_get_name ? interface_get_name(iface) : NULL;
}
static uint64_t fb_frame(void *iface) {
	return interface_get_frame ? interface_get_frame(iface) : 0;
}
static double fb_x(void *iface) {
	return interface_get_position_x ? interface_get_position_x(iface) : 0;
}
static double fb_y(void *iface) {
	return interface_get_position_y ? interface_get_position_y(iface) : 0;
}
static double fb_z(void *iface) {
	return interface_get_position_z ? interface_get_position_z(iface) : 0;
}
*/
import "C"

import (
	"unsafe"

	"github.com/aughey/framebridge/internal/hostview"
	"github.com/aughey/framebridge/pkg/plugin"
)

// readState copies the host's per-frame state out of iface.
func readState(iface unsafe.Pointer) hostview.State {
	var name string
	if p := C.fb_name(iface); p != nil {
		name = C.GoString(p)
	}
	return hostview.State{
		Name:  name,
		Frame: uint64(C.fb_frame(iface)),
		Position: plugin.Position{
			X: float64(C.fb_x(iface)),
			Y: float64(C.fb_y(iface)),
			Z: float64(C.fb_z(iface)),
		},
	}
}

// shutdownFunc forwards a shutdown request to the host. It must only be
// called while iface is valid, which the view guarantees by expiring at the
// end of the frame.
func shutdownFunc(iface unsafe.Pointer) hostview.ShutdownFunc {
	return func() {
		C.fb_shutdown(iface)
	}
}
