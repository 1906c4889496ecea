package generator

import (
	"math"
	"math/rand"
	"testing"
	"time"

	"modbus-simulator/internal/points"
)

func TestComputeRamp(t *testing.T) {
	cfg := points.GeneratorConfig{Min: 0, Max: 10, PeriodSeconds: 10}
	t0 := time.Unix(0, 0).UTC()
	got, ok := compute(points.GenRamp, cfg, t0.Add(5*time.Second), nil)
	if !ok {
		t.Fatal("expected ramp to produce a value")
	}
	if math.Abs(got-5) > 1e-9 {
		t.Fatalf("expected ramp midpoint 5, got %v", got)
	}
}

func TestComputeSineBounds(t *testing.T) {
	cfg := points.GeneratorConfig{Min: -1, Max: 1, PeriodSeconds: 4}
	t0 := time.Unix(0, 0).UTC()
	// at t=period/4, sin argument = pi/2 -> sine peaks at max.
	got, ok := compute(points.GenSine, cfg, t0.Add(1*time.Second), nil)
	if !ok {
		t.Fatal("expected sine to produce a value")
	}
	if math.Abs(got-1) > 1e-6 {
		t.Fatalf("expected sine peak ~1 at quarter period, got %v", got)
	}
}

func TestComputeRandomWithinBounds(t *testing.T) {
	cfg := points.GeneratorConfig{Min: 10, Max: 20}
	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 50; i++ {
		got, ok := compute(points.GenRandom, cfg, time.Now(), rng)
		if !ok {
			t.Fatal("expected random to produce a value")
		}
		if got < 10 || got >= 20 {
			t.Fatalf("random value %v out of bounds [10,20)", got)
		}
	}
}

func TestComputeStaticSkipped(t *testing.T) {
	_, ok := compute(points.GenStatic, points.GeneratorConfig{}, time.Now(), nil)
	if ok {
		t.Fatal("static must never produce a computed value")
	}
}

func TestFormatDisplayEnumLabel(t *testing.T) {
	d := &points.Definition{SemanticType: points.TypeUint16, Enum: points.EnumLabels{1: "Running", 2: "Stopped"}}
	if got := formatDisplay(d, 1.4); got != "Running" {
		t.Fatalf("expected nearest-int enum label Running, got %q", got)
	}
}

func TestFormatDisplayNumericFallback(t *testing.T) {
	d := &points.Definition{SemanticType: points.TypeUint16}
	if got := formatDisplay(d, 3.14159); got != "3.14" {
		t.Fatalf("expected two fraction digits, got %q", got)
	}
}

func TestFormatDisplayBool(t *testing.T) {
	d := &points.Definition{SemanticType: points.TypeBool}
	if got := formatDisplay(d, 1); got != "true" {
		t.Fatalf("expected bool display true, got %q", got)
	}
}
