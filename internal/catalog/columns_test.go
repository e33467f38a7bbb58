package catalog

import "testing"

func TestNormalizeColumnName(t *testing.T) {
	cases := map[string]string{
		"Population":    "population",
		"Café Name":     "cafe_name",
		"2024_value":    "col_2024_value",
		"select":        "col_select",
		"fid":           "col_fid",
		"geom":          "col_geom",
		"   ":           "",
		"Ärea (km²)":    "area_km",
	}
	for in, want := range cases {
		if got := NormalizeColumnName(in); got != want {
			t.Errorf("NormalizeColumnName(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestDedupeColumnNames(t *testing.T) {
	got := DedupeColumnNames([]string{"Name", "name", "Name"})
	want := []string{"name", "name_2", "name_3"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("DedupeColumnNames = %v, want %v", got, want)
		}
	}
}

func TestMVTTypeFor(t *testing.T) {
	cases := []struct {
		duckdbType string
		mvtType    string
		castTo     string
	}{
		{"VARCHAR", "text", ""},
		{"BOOLEAN", "text", ""},
		{"DOUBLE", "float64", ""},
		{"BIGINT", "int64", ""},
		{"INTEGER", "int32", ""},
		{"SMALLINT", "int32", "INTEGER"},
		{"UBIGINT", "int64", "BIGINT"},
		{"DATE", "text", "VARCHAR"},
	}
	for _, tc := range cases {
		gotType, gotCast := MVTTypeFor(tc.duckdbType)
		if gotType != tc.mvtType || gotCast != tc.castTo {
			t.Errorf("MVTTypeFor(%q) = (%q, %q), want (%q, %q)", tc.duckdbType, gotType, gotCast, tc.mvtType, tc.castTo)
		}
	}
}
