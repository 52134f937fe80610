// Copyright 2026 Google LLC. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package bootcfg

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

const legacyExtlinux = `# Legacy BredOS extlinux configuration
default BredOS
timeout 30
menu title BredOS Boot Menu

label BredOS
	kernel /vmlinuz-linux
	initrd /initramfs-linux.img
	fdt /dtbs/rockchip/rk3588-rock-5b.dtb
	fdtoverlays /dtbs/rockchip/overlay/a.dtbo  /dtbs/rockchip/overlay/b.dtbo
	append root=UUID=1234-abcd rw quiet

LABEL Fallback
    KERNEL /vmlinuz-linux
    INITRD /initramfs-linux-fallback.img
    FDTDIR /dtbs
    APPEND root=UUID=1234-abcd rw
`

func TestParseExtlinux(t *testing.T) {
	e, err := ParseExtlinux([]byte(legacyExtlinux))
	if err != nil {
		t.Fatalf("ParseExtlinux(): %v", err)
	}
	if diff := cmp.Diff([]string{"default", "timeout", "menu"}, e.Global.Keys()); len(diff) != 0 {
		t.Errorf("Global.Keys() diff (-want +got):\n%s", diff)
	}
	if got := e.Global.Get("MENU").String(); got != "title BredOS Boot Menu" {
		t.Errorf("MENU = %q", got)
	}
	if diff := cmp.Diff([]string{"BredOS", "Fallback"}, e.Labels()); len(diff) != 0 {
		t.Errorf("Labels() diff (-want +got):\n%s", diff)
	}

	name, s := e.DefaultLabel()
	if name != "BredOS" || s == nil {
		t.Fatalf("DefaultLabel() = %q, %v", name, s)
	}
	if got, want := s.Get("fdtoverlays"), L("/dtbs/rockchip/overlay/a.dtbo", "/dtbs/rockchip/overlay/b.dtbo"); !got.Equal(want) {
		t.Errorf("fdtoverlays = %#v, want %#v", got, want)
	}
	if got := s.Get("append").String(); got != "root=UUID=1234-abcd rw quiet" {
		t.Errorf("append = %q", got)
	}
	if got := e.Label("Fallback").Get("fdtdir").String(); got != "/dtbs" {
		t.Errorf("Fallback fdtdir = %q", got)
	}
}

func TestDefaultLabelFallsBackToFirst(t *testing.T) {
	e, err := ParseExtlinux([]byte("DEFAULT nope\nLABEL one\nKERNEL /a\nLABEL two\nKERNEL /b\n"))
	if err != nil {
		t.Fatalf("ParseExtlinux(): %v", err)
	}
	if name, _ := e.DefaultLabel(); name != "one" {
		t.Errorf("DefaultLabel() = %q, want one", name)
	}
	empty, err := ParseExtlinux(nil)
	if err != nil {
		t.Fatalf("ParseExtlinux(nil): %v", err)
	}
	if name, s := empty.DefaultLabel(); name != "" || s != nil {
		t.Errorf("DefaultLabel() of empty config = %q, %v", name, s)
	}
}

func TestParseExtlinuxErrors(t *testing.T) {
	for _, test := range []struct {
		desc string
		data string
	}{
		{desc: "label without name", data: "LABEL\n"},
		{desc: "duplicate label", data: "LABEL a\nLABEL b\nLABEL a\n"},
	} {
		t.Run(test.desc, func(t *testing.T) {
			var pe *ParseError
			if _, err := ParseExtlinux([]byte(test.data)); !errors.As(err, &pe) {
				t.Errorf("ParseExtlinux() err = %v, want *ParseError", err)
			}
		})
	}
}

func TestExtlinuxRoundTrip(t *testing.T) {
	first, err := ParseExtlinux([]byte(legacyExtlinux))
	if err != nil {
		t.Fatalf("ParseExtlinux(): %v", err)
	}
	enc := EncodeExtlinux(first)
	second, err := ParseExtlinux(enc)
	if err != nil {
		t.Fatalf("ParseExtlinux(encoded): %v\n%s", err, enc)
	}
	if diff := cmp.Diff(string(enc), string(EncodeExtlinux(second))); len(diff) != 0 {
		t.Errorf("encode is not idempotent (-first +second):\n%s", diff)
	}
	if got := second.Label("BredOS").Get("FDT").String(); got != "/dtbs/rockchip/rk3588-rock-5b.dtb" {
		t.Errorf("FDT after round trip = %q", got)
	}
	want := `DEFAULT BredOS
TIMEOUT 30
MENU title BredOS Boot Menu

LABEL BredOS
    KERNEL /vmlinuz-linux
    INITRD /initramfs-linux.img
    FDT /dtbs/rockchip/rk3588-rock-5b.dtb
    FDTOVERLAYS /dtbs/rockchip/overlay/a.dtbo /dtbs/rockchip/overlay/b.dtbo
    APPEND root=UUID=1234-abcd rw quiet

LABEL Fallback
    KERNEL /vmlinuz-linux
    INITRD /initramfs-linux-fallback.img
    FDTDIR /dtbs
    APPEND root=UUID=1234-abcd rw
`
	if diff := cmp.Diff(want, string(enc)); len(diff) != 0 {
		t.Errorf("EncodeExtlinux() diff (-want +got):\n%s", diff)
	}
}
