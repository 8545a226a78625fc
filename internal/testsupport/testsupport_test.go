// Copyright (c) 2024 The Falcon Contributors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

package testsupport

import (
	"os/exec"
	"testing"
)

func requireHostToolchain(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("cc"); err != nil {
		t.Skip("host cc not available, skipping assemble/link/run end-to-end test")
	}
}

// The six scenarios here are spec.md 8's concrete end-to-end test
// programs. Scenario 1's source deviates from spec.md's literal text:
// the spec writes "(a|b)&^a", which isn't valid C (no such operator);
// this is almost certainly a transcription artifact from the spec's
// distillation pipeline. "(a|b)-(a&b)" is the same "combine or and and
// into a third bitwise result" shape the scenario's "bitwise mix" label
// describes and evaluates to the same expected 6 for a=5,b=3 (it's the
// standard identity a^b == (a|b)-(a&b)), so it is used here instead; see
// DESIGN.md's Open Question decisions.
func TestEndToEndBitwiseMix(t *testing.T) {
	requireHostToolchain(t)
	src := "int main(){int a=5,b=3;return (a|b)-(a&b);}"
	got, err := CompileAndRun(src)
	if err != nil {
		t.Fatalf("CompileAndRun: %s", err)
	}
	if got != 6 {
		t.Fatalf("expected exit code 6, got %d", got)
	}
}

func TestEndToEndDesignatedInit(t *testing.T) {
	requireHostToolchain(t)
	src := "struct P{int x,y;};int main(){struct P p={.x=10,.y=32};return p.x+p.y;}"
	got, err := CompileAndRun(src)
	if err != nil {
		t.Fatalf("CompileAndRun: %s", err)
	}
	if got != 42 {
		t.Fatalf("expected exit code 42, got %d", got)
	}
}

func TestEndToEndLoopInduction(t *testing.T) {
	requireHostToolchain(t)
	src := "int main(){int s=0;for(int i=0;i<10;i++)s+=i;return s;}"
	got, err := CompileAndRun(src)
	if err != nil {
		t.Fatalf("CompileAndRun: %s", err)
	}
	if got != 45 {
		t.Fatalf("expected exit code 45, got %d", got)
	}
}

func TestEndToEndRecursion(t *testing.T) {
	requireHostToolchain(t)
	src := "int fib(int n){if(n<=1)return n;return fib(n-1)+fib(n-2);}int main(){return fib(10);}"
	got, err := CompileAndRun(src)
	if err != nil {
		t.Fatalf("CompileAndRun: %s", err)
	}
	if got != 55 {
		t.Fatalf("expected exit code 55, got %d", got)
	}
}

func TestEndToEndPointerArithmeticScaling(t *testing.T) {
	requireHostToolchain(t)
	src := "int main(){int a[3]={1,2,3};int*p=a;return *(p+2);}"
	got, err := CompileAndRun(src)
	if err != nil {
		t.Fatalf("CompileAndRun: %s", err)
	}
	if got != 3 {
		t.Fatalf("expected exit code 3, got %d", got)
	}
}

func TestEndToEndUnionAliasing(t *testing.T) {
	requireHostToolchain(t)
	src := "int main(){union U{int i;char c;}u;u.i=0x12345678;return u.c;}"
	got, err := CompileAndRun(src)
	if err != nil {
		t.Fatalf("CompileAndRun: %s", err)
	}
	if got != 0x78 {
		t.Fatalf("expected exit code 0x78 (120), got %d", got)
	}
}

func TestExpectedExitParsesAnnotation(t *testing.T) {
	n, ok := ExpectedExit("// EXPECT: 42\nint main(){return 42;}")
	if !ok || n != 42 {
		t.Fatalf("expected (42, true), got (%d, %v)", n, ok)
	}
}

func TestExpectedExitAbsentAnnotation(t *testing.T) {
	_, ok := ExpectedExit("int main(){return 0;}")
	if ok {
		t.Fatalf("expected ok=false when no EXPECT comment is present")
	}
}
