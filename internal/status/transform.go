package status

import (
	"math"
	"sort"
	"strings"
)

// Document is the external projection of a Snapshot: block name -> fields.
// Only fields with a present, non-null source value are included.
type Document map[string]map[string]any

// Map converts d into the generic shape the stores accept. Blocks are copied.
func (d Document) Map() map[string]any {
	out := make(map[string]any, len(d))
	for name, block := range d {
		out[name] = cloneFields(block)
	}
	return out
}

// Transform projects snap (plus optional file metadata) into a Document.
// Malformed or missing source fields are silently omitted.
func Transform(snap Snapshot, meta FileMetadata) Document {
	doc := Document{}
	if b := heaterBlock(snap.Topic("heater_bed")); len(b) > 0 {
		doc["heater_bed"] = b
	}
	if b := extruderBlock(snap); len(b) > 0 {
		doc["extruder"] = b
	}
	if b := printStatsBlock(snap, meta); len(b) > 0 {
		doc["print_stats"] = b
	}
	if b := displayStatusBlock(snap.Topic("display_status")); b != nil {
		doc["display_status"] = b
	}
	if b := gcodeMoveBlock(snap.Topic("gcode_move")); len(b) > 0 {
		doc["gcode_move"] = b
	}
	return doc
}

func heaterBlock(src map[string]any) map[string]any {
	if src == nil {
		return nil
	}
	out := map[string]any{}
	putRounded(out, "target", src, "target", 0)
	putRounded(out, "temperature", src, "temperature", 1)
	putRounded(out, "power", src, "power", 2)
	return out
}

// extruderBlock prefers an extruder-like entry under "heaters" and falls back
// to the dedicated "extruder" topic.
func extruderBlock(snap Snapshot) map[string]any {
	if heaters := snap.Topic("heaters"); heaters != nil {
		names := make([]string, 0, len(heaters))
		for name := range heaters {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			if !strings.Contains(strings.ToLower(name), "extruder") {
				continue
			}
			fields, ok := heaters[name].(map[string]any)
			if !ok {
				continue
			}
			if b := heaterBlock(fields); len(b) > 0 {
				return b
			}
		}
	}
	return heaterBlock(snap.Topic("extruder"))
}

func printStatsBlock(snap Snapshot, meta FileMetadata) map[string]any {
	ps := snap.Topic("print_stats")
	sd := snap.Topic("virtual_sdcard")
	if ps == nil && sd == nil {
		return nil
	}
	out := map[string]any{}

	if v, ok := present(ps, "state"); ok {
		out["state"] = v
	}
	if name, ok := printFilename(ps, sd); ok {
		out["filename"] = name
	}
	putRounded(out, "print_duration", ps, "print_duration", 1)
	if p, ok := number(sd["progress"]); ok {
		out["progress"] = round(p*100, 2)
	}
	if size, ok := number(sd["file_size"]); ok && size > 0 {
		out["file_size"] = round(size, 0)
	}
	if left, ok := timeRemaining(snap, meta); ok {
		out["time_remaining"] = left
	}
	return out
}

// Filename returns the name of the file being printed, or "" when unknown.
func Filename(snap Snapshot) string {
	name, _ := printFilename(snap.Topic("print_stats"), snap.Topic("virtual_sdcard"))
	s, _ := name.(string)
	return s
}

func printFilename(ps, sd map[string]any) (any, bool) {
	if name, ok := ps["filename"].(string); ok && name != "" {
		return name, true
	}
	if path, ok := sd["file_path"].(string); ok && path != "" {
		return path, true
	}
	return present(ps, "filename")
}

// timeRemaining estimates the seconds left in the current print. In order of
// preference: slicer estimate from file metadata, extrapolation from progress,
// then print_stats.total_duration. The last one ignores pause time and so
// underestimates after a pause.
func timeRemaining(snap Snapshot, meta FileMetadata) (int64, bool) {
	ps := snap.Topic("print_stats")
	elapsed, ok := number(ps["print_duration"])
	if !ok {
		return 0, false
	}
	if est, ok := number(meta["estimated_time"]); ok && est > 0 {
		return secondsLeft(est - elapsed), true
	}
	if progress, ok := progressFraction(snap); ok && progress > 0 {
		return secondsLeft(elapsed/progress - elapsed), true
	}
	if total, ok := number(ps["total_duration"]); ok {
		return secondsLeft(total - elapsed), true
	}
	return 0, false
}

func progressFraction(snap Snapshot) (float64, bool) {
	if p, ok := number(snap.Topic("virtual_sdcard")["progress"]); ok {
		return p, true
	}
	return number(snap.Topic("display_status")["progress"])
}

func secondsLeft(v float64) int64 {
	left := int64(math.RoundToEven(v))
	if left < 0 {
		return 0
	}
	return left
}

func displayStatusBlock(src map[string]any) map[string]any {
	if src == nil {
		return nil
	}
	out := map[string]any{"progress": float64(0), "message": ""}
	if p, ok := number(src["progress"]); ok {
		out["progress"] = round(p, 2)
	}
	if msg, ok := present(src, "message"); ok {
		out["message"] = msg
	}
	return out
}

func gcodeMoveBlock(src map[string]any) map[string]any {
	if src == nil {
		return nil
	}
	out := map[string]any{}
	putRounded(out, "speed_factor", src, "speed_factor", 2)
	putRounded(out, "speed", src, "speed", 1)
	putRounded(out, "extrude_factor", src, "extrude_factor", 2)
	return out
}

func putRounded(dst map[string]any, key string, src map[string]any, field string, decimals int) {
	if v, ok := number(src[field]); ok {
		dst[key] = round(v, decimals)
	}
}

func present(src map[string]any, field string) (any, bool) {
	v, ok := src[field]
	if !ok || v == nil {
		return nil, false
	}
	return v, true
}
