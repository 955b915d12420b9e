package catalog

import (
	"fmt"

	lua "github.com/yuin/gopher-lua"
)

// DefaultSource is a small embedded Lua table literal standing in for the
// opaque external card-catalog data source (spec.md §1, §6: "the
// card-catalog source file ... treated as an opaque data source"). Callers
// loading a real catalog pass their own Lua source to Load instead.
const DefaultSource = `
cars = {
	{ id = "mustang_66",  kind = "car", speed = 193, hp = 271, accel = 7.2,  weight = 1400, year = 1966 },
	{ id = "beetle_63",   kind = "car", speed = 115, hp = 44,  accel = 27.5, weight = 820,  year = 1963 },
	{ id = "f40_87",      kind = "car", speed = 324, hp = 471, accel = 4.1,  weight = 1100, year = 1987 },
	{ id = "civic_99",    kind = "car", speed = 195, hp = 160, accel = 8.2,  weight = 1150, year = 1999 },
	{ id = "model_t_08",  kind = "car", speed = 72,  hp = 20,  accel = 1,    weight = 540,  year = 1908 },
	{ id = "model3_21",   kind = "car", speed = 261, hp = 450, accel = 3.1,  weight = 1847, year = 2021 },
	{ id = "gtr_20",      kind = "car", speed = 315, hp = 565, accel = 2.9,  weight = 1750, year = 2020 },
	{ id = "miata_90",    kind = "car", speed = 196, hp = 116, accel = 9.0,  weight = 980,  year = 1990 },
	{ id = "bad_car",     kind = "car", speed = 0,   hp = 120, accel = 9.0,  weight = 900,  year = 2000 },
}

actions = {
	{ id = "nitro_boost",     kind = "action", effect = "metric_mod_temp", target_metric = "speed",  value = 15,  modifier_kind = "percentage", target = "self" },
	{ id = "engine_swap",     kind = "action", effect = "metric_mod_perm", target_metric = "hp",     value = 50,  modifier_kind = "absolute",   target = "self" },
	{ id = "sabotage",        kind = "action", effect = "metric_mod_temp", target_metric = "accel",  value = 20,  modifier_kind = "percentage", target = "opponent" },
	{ id = "weight_reduction",kind = "action", effect = "metric_mod_perm", target_metric = "weight", value = -10, modifier_kind = "percentage", target = "self" },
	{ id = "photo_finish",    kind = "action", effect = "override_metric", allowed_metrics = { "speed", "hp", "accel", "weight", "year" } },
	{ id = "pit_stop",        kind = "action", effect = "time_mod",    time_mod_seconds = 15 },
	{ id = "road_rage",       kind = "action", effect = "drop_card" },
	{ id = "second_wind",     kind = "action", effect = "extra_turn" },
}
`

// Load evaluates source as a Lua script exposing global tables "cars" and
// "actions", walks them, and produces card definitions. Invalid cars
// (missing/zero speed, hp, accel, weight, or year) are skipped. Car ranks
// are then computed by normalized weighted scoring (see rank.go).
func Load(source string) (*Catalog, error) {
	L := lua.NewState()
	defer L.Close()

	if err := L.DoString(source); err != nil {
		return nil, fmt.Errorf("catalog: evaluating source: %w", err)
	}

	var defs []Definition

	if carsTbl, ok := L.GetGlobal("cars").(*lua.LTable); ok {
		carsTbl.ForEach(func(_, v lua.LValue) {
			row, ok := v.(*lua.LTable)
			if !ok {
				return
			}
			d, ok := parseCarRow(row)
			if !ok {
				return
			}
			defs = append(defs, d)
		})
	}

	if actionsTbl, ok := L.GetGlobal("actions").(*lua.LTable); ok {
		actionsTbl.ForEach(func(_, v lua.LValue) {
			row, ok := v.(*lua.LTable)
			if !ok {
				return
			}
			d, err := parseActionRow(row)
			if err != nil {
				return
			}
			defs = append(defs, d)
		})
	}

	c, err := newCatalog(defs)
	if err != nil {
		return nil, err
	}
	applyRanks(c)
	return c, nil
}

func luaString(row *lua.LTable, field string) string {
	v := row.RawGetString(field)
	if s, ok := v.(lua.LString); ok {
		return string(s)
	}
	return ""
}

func luaNumber(row *lua.LTable, field string) (float64, bool) {
	v := row.RawGetString(field)
	n, ok := v.(lua.LNumber)
	if !ok {
		return 0, false
	}
	return float64(n), true
}

func parseCarRow(row *lua.LTable) (Definition, bool) {
	id := luaString(row, "id")
	if id == "" {
		return Definition{}, false
	}

	speed, ok1 := luaNumber(row, "speed")
	hp, ok2 := luaNumber(row, "hp")
	accel, ok3 := luaNumber(row, "accel")
	weight, ok4 := luaNumber(row, "weight")
	year, ok5 := luaNumber(row, "year")

	if !ok1 || !ok2 || !ok3 || !ok4 || !ok5 {
		return Definition{}, false
	}
	if speed == 0 || hp == 0 || accel == 0 || weight == 0 || year == 0 {
		return Definition{}, false
	}

	return Definition{
		ID:   id,
		Kind: KindCar,
		Metrics: Metrics{
			Speed:  speed,
			HP:     hp,
			Accel:  accel,
			Weight: weight,
			Year:   year,
		},
	}, true
}

func parseActionRow(row *lua.LTable) (Definition, error) {
	id := luaString(row, "id")
	if id == "" {
		return Definition{}, fmt.Errorf("catalog: action row missing id")
	}

	effectType := EffectType(luaString(row, "effect"))
	eff := Effect{Type: effectType}

	switch effectType {
	case EffectTimeMod:
		secs, _ := luaNumber(row, "time_mod_seconds")
		eff.TimeModSeconds = int(secs)
	case EffectMetricModTemp, EffectMetricModPerm:
		eff.TargetMetric = Metric(luaString(row, "target_metric"))
		if !ValidMetric(string(eff.TargetMetric)) {
			return Definition{}, fmt.Errorf("catalog: action %q has invalid target_metric", id)
		}
		v, _ := luaNumber(row, "value")
		eff.Value = v
		eff.ModifierKind = ModifierKind(luaString(row, "modifier_kind"))
		eff.Target = EffectTarget(luaString(row, "target"))
	case EffectOverrideMetric:
		if tbl, ok := row.RawGetString("allowed_metrics").(*lua.LTable); ok {
			tbl.ForEach(func(_, mv lua.LValue) {
				if s, ok := mv.(lua.LString); ok {
					eff.AllowedMetrics = append(eff.AllowedMetrics, Metric(s))
				}
			})
		}
		if len(eff.AllowedMetrics) == 0 {
			eff.AllowedMetrics = append([]Metric{}, AllMetrics...)
		}
	case EffectDropCard, EffectExtraTurn:
		// no extra fields
	default:
		return Definition{}, fmt.Errorf("catalog: action %q has unknown effect %q", id, effectType)
	}

	return Definition{ID: id, Kind: KindAction, Effect: eff}, nil
}
