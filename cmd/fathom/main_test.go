package main

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/xtxerr/fathom/internal/store"
	"github.com/xtxerr/fathom/internal/testutil"
)

func fval(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

func flist(vals []float64) string {
	parts := make([]string, len(vals))
	for i, v := range vals {
		parts[i] = fval(v)
	}
	return strings.Join(parts, ";")
}

// writeSurveyCSV renders a synthetic survey in the raw record format.
func writeSurveyCSV(t *testing.T, path string, sv testutil.Survey) {
	t.Helper()
	var b strings.Builder

	ds := sv.Dataset()
	fmt.Fprintf(&b, "installation,%s,%s,%s,%s,%s,%s,%s,%s,%s\n",
		ds.Serial, ds.Model,
		fval(ds.Installation.LeverX), fval(ds.Installation.LeverY),
		fval(ds.Installation.LeverZ), fval(ds.Installation.MountRoll),
		fval(ds.Installation.MountPitch), fval(ds.Installation.MountYaw),
		fval(ds.Installation.WaterlineOffset))

	cast := sv.GenerateCast()
	fmt.Fprintf(&b, "profile,%d,%s,%s\n",
		cast.ValidFromUs, flist(cast.Depths), flist(cast.Velocities))

	for _, a := range sv.GenerateAttitude() {
		fmt.Fprintf(&b, "attitude,%d,%s,%s,%s,%s\n", a.TimestampUs,
			fval(a.Heading), fval(a.Pitch), fval(a.Roll), fval(a.Heave))
	}
	for _, n := range sv.GenerateNavigation() {
		fmt.Fprintf(&b, "navigation,%d,%s,%s,%s\n", n.TimestampUs,
			fval(n.Latitude), fval(n.Longitude), fval(n.Altitude))
	}
	for _, p := range sv.GeneratePings() {
		quals := make([]string, len(p.Quality))
		for i, q := range p.Quality {
			quals[i] = strconv.Itoa(int(q))
		}
		fmt.Fprintf(&b, "ping,%s,%d,%d,%s,%s,%s,%s\n",
			p.Serial, p.TimestampUs, p.Sector, fval(p.Frequency),
			flist(p.TravelTime), flist(p.PointingAngle), strings.Join(quals, ";"))
	}

	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		t.Fatalf("write survey csv: %v", err)
	}
}

func writeTestConfig(t *testing.T, dir string) string {
	t.Helper()
	content := fmt.Sprintf(`
store:
  root: %s
  chunk_size: 20
executor:
  workers: 2
export:
  dest: %s
`, filepath.Join(dir, "survey"), filepath.Join(dir, "export"))

	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func countDataRows(t *testing.T, path string) int {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open %s: %v", path, err)
	}
	defer f.Close()

	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	if len(rows) == 0 {
		t.Fatalf("%s has no header", path)
	}
	return len(rows) - 1
}

func TestEndToEnd(t *testing.T) {
	dir := t.TempDir()
	sv := testutil.DefaultSurvey()
	csvPath := filepath.Join(dir, "survey.csv")
	writeSurveyCSV(t, csvPath, sv)
	cfgPath := writeTestConfig(t, dir)
	ctx := context.Background()

	if err := runConvert(ctx, []string{"-config", cfgPath, "-input", csvPath}); err != nil {
		t.Fatalf("convert: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "survey", "casts.yaml")); err != nil {
		t.Errorf("casts not persisted: %v", err)
	}

	if err := runProcess(ctx, []string{"-config", cfgPath}); err != nil {
		t.Fatalf("process: %v", err)
	}

	st, err := store.Open(filepath.Join(dir, "survey", sv.Serial), store.DefaultOptions())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer st.Close()
	for _, c := range st.ListChunks() {
		if got := st.Status(c.Seq).Overall(); got != store.StateDone {
			t.Errorf("chunk %d state = %v, want done", c.Seq, got)
		}
	}

	if err := runExport(ctx, []string{"-config", cfgPath}); err != nil {
		t.Fatalf("export: %v", err)
	}

	// 100 pings alternate sectors, 8 beams each: 400 soundings per sector.
	for _, sector := range []string{"0", "1"} {
		path := filepath.Join(dir, "export", sv.Serial, "survey_"+sector+".csv")
		if got := countDataRows(t, path); got != 400 {
			t.Errorf("sector %s: %d soundings, want 400", sector, got)
		}
	}
}

func TestEndToEndAttitudeGap(t *testing.T) {
	dir := t.TempDir()
	sv := testutil.DefaultSurvey()
	sv.Gaps = []store.TimeRange{{
		StartUs: sv.StartUs + 20_000_000,
		EndUs:   sv.StartUs + 25_000_000,
	}}
	csvPath := filepath.Join(dir, "survey.csv")
	writeSurveyCSV(t, csvPath, sv)
	cfgPath := writeTestConfig(t, dir)
	ctx := context.Background()

	if err := runConvert(ctx, []string{"-config", cfgPath, "-input", csvPath}); err != nil {
		t.Fatalf("convert: %v", err)
	}
	// Chunk failures are recorded, not fatal.
	if err := runProcess(ctx, []string{"-config", cfgPath}); err != nil {
		t.Fatalf("process: %v", err)
	}

	st, err := store.Open(filepath.Join(dir, "survey", sv.Serial), store.DefaultOptions())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer st.Close()

	var done, failed int
	for _, c := range st.ListChunks() {
		switch st.Status(c.Seq).Overall() {
		case store.StateDone:
			done++
		case store.StateFailed:
			failed++
		}
	}
	if done != 4 || failed != 1 {
		t.Fatalf("done=%d failed=%d, want 4/1", done, failed)
	}

	if err := runExport(ctx, []string{"-config", cfgPath}); err != nil {
		t.Fatalf("export: %v", err)
	}

	// The failed chunk's 20 pings are withheld: 80 pings remain, 40 per
	// sector, 8 beams each.
	for _, sector := range []string{"0", "1"} {
		path := filepath.Join(dir, "export", sv.Serial, "survey_"+sector+".csv")
		if got := countDataRows(t, path); got != 320 {
			t.Errorf("sector %s: %d soundings, want 320", sector, got)
		}
	}
}

func TestEndToEndConvertIsResumable(t *testing.T) {
	dir := t.TempDir()
	sv := testutil.DefaultSurvey()
	csvPath := filepath.Join(dir, "survey.csv")
	writeSurveyCSV(t, csvPath, sv)
	cfgPath := writeTestConfig(t, dir)
	ctx := context.Background()

	if err := runConvert(ctx, []string{"-config", cfgPath, "-input", csvPath}); err != nil {
		t.Fatalf("convert: %v", err)
	}

	// A second survey leg continues where the first ended.
	leg2 := sv
	leg2.StartUs = sv.StartUs + int64(sv.Pings)*sv.PingIntervalUs + 10_000_000
	csvPath2 := filepath.Join(dir, "survey2.csv")
	writeSurveyCSV(t, csvPath2, leg2)

	if err := runConvert(ctx, []string{"-config", cfgPath, "-input", csvPath2}); err != nil {
		t.Fatalf("second convert: %v", err)
	}

	st, err := store.Open(filepath.Join(dir, "survey", sv.Serial), store.DefaultOptions())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer st.Close()
	if got := len(st.ListChunks()); got != 10 {
		t.Errorf("ping chunks = %d, want 10", got)
	}
}
