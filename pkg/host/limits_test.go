// Copyright 2025 Certen Protocol

package host

import "testing"

func encodeULEB128(v uint32) []byte {
	var out []byte
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			b |= 0x80
		}
		out = append(out, b)
		if v == 0 {
			return out
		}
	}
}

func section(id byte, body []byte) []byte {
	out := []byte{id}
	out = append(out, encodeULEB128(uint32(len(body)))...)
	return append(out, body...)
}

// buildFunctionSection declares count functions. Content beyond the
// count is never read by scanImageShape, so it's left empty.
func buildFunctionSection(count int) []byte {
	return section(secFunction, encodeULEB128(uint32(count)))
}

func buildTableSection(count int) []byte {
	return section(secTable, encodeULEB128(uint32(count)))
}

// buildCodeSection encodes one function body per entry in localGroups,
// where each entry is a list of local-declaration group sizes.
func buildCodeSection(localGroups [][]int) []byte {
	var body []byte
	body = append(body, encodeULEB128(uint32(len(localGroups)))...)
	for _, groups := range localGroups {
		var entry []byte
		entry = append(entry, encodeULEB128(uint32(len(groups)))...)
		for _, count := range groups {
			entry = append(entry, encodeULEB128(uint32(count))...)
			entry = append(entry, 0x7f) // i32 value type
		}
		body = append(body, encodeULEB128(uint32(len(entry)))...)
		body = append(body, entry...)
	}
	return section(secCode, body)
}

func buildModule(sections ...[]byte) []byte {
	out := []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}
	for _, s := range sections {
		out = append(out, s...)
	}
	return out
}

func TestScanImageShapeCountsFunctionsTablesAndLocals(t *testing.T) {
	img := buildModule(
		buildFunctionSection(3),
		buildTableSection(1),
		buildCodeSection([][]int{{5, 3}, {1}, {}}),
	)
	shape, err := scanImageShape(img)
	if err != nil {
		t.Fatalf("scanImageShape: %v", err)
	}
	if shape.functions != 3 {
		t.Errorf("functions = %d, want 3", shape.functions)
	}
	if shape.tables != 1 {
		t.Errorf("tables = %d, want 1", shape.tables)
	}
	if shape.maxLocalsInAny != 8 {
		t.Errorf("maxLocalsInAny = %d, want 8 (5+3 in the largest function)", shape.maxLocalsInAny)
	}
}

func TestScanImageShapeRejectsBadMagic(t *testing.T) {
	if _, err := scanImageShape([]byte("not a wasm module")); err == nil {
		t.Error("expected an error for a non-wasm image")
	}
}

func TestValidateShapeRejectsExceededBounds(t *testing.T) {
	cfg := Config{MaxFunctions: 2, MaxTables: 4, MaxLocalsPerFunction: 100, MaxCodeBytes: 1 << 20}

	if err := validateShape(imageShape{functions: 3}, cfg); err == nil {
		t.Error("expected rejection for exceeding MaxFunctions")
	}
	if err := validateShape(imageShape{functions: 2}, cfg); err != nil {
		t.Errorf("expected acceptance at the exact bound, got %v", err)
	}
	if err := validateShape(imageShape{maxLocalsInAny: 200}, cfg); err == nil {
		t.Error("expected rejection for exceeding MaxLocalsPerFunction")
	}
	if err := validateShape(imageShape{codeBytes: 2 << 20}, cfg); err == nil {
		t.Error("expected rejection for exceeding MaxCodeBytes")
	}
}

func TestValidateShapeZeroBoundDisablesCheck(t *testing.T) {
	cfg := Config{} // every bound zero
	if err := validateShape(imageShape{functions: 1_000_000, tables: 1_000, maxLocalsInAny: 1_000_000, codeBytes: 1 << 30}, cfg); err != nil {
		t.Errorf("expected zero bounds to disable every check, got %v", err)
	}
}
