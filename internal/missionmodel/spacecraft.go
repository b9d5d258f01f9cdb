package missionmodel

import (
	"fmt"

	"github.com/roach88/merlin/internal/engine"
	"github.com/roach88/merlin/internal/ir"
	"github.com/roach88/merlin/internal/timeline"
)

// SpacecraftModelName names the demonstration model.
const SpacecraftModelName = "spacecraft"

// Spacecraft is the world tag of the demonstration model's schema.
type Spacecraft struct{}

// Cell names.
const (
	CellBattery = "battery_charge"
	CellData    = "data_volume"
	CellMode    = "instrument_mode"
)

// Instrument modes.
const (
	ModeIdle      = "idle"
	ModeImaging   = "imaging"
	ModeObserving = "observing"
	ModeDownlink  = "downlink"
)

// Activity type names.
const (
	ActChargeBattery      = "ChargeBattery"
	ActTakeImage          = "TakeImage"
	ActCompressImage      = "CompressImage"
	ActDownlink           = "Downlink"
	ActObserve            = "Observe"
	ActHousekeepingDaemon = "HousekeepingDaemon"
)

// SpacecraftConfig holds the model's tunable constants. Charge is in
// percent-tenths, data in megabits; rates are per simulated minute.
type SpacecraftConfig struct {
	BatteryCapacity      int64
	InitialCharge        int64
	ChargeRate           int64
	ImageCost            int64
	ImageSize            int64
	CompressionRatio     int64
	DownlinkRate         int64
	HousekeepingInterval ir.Duration
	HousekeepingDrain    int64
}

// DefaultSpacecraftConfig returns the configuration used for absent keys.
func DefaultSpacecraftConfig() SpacecraftConfig {
	return SpacecraftConfig{
		BatteryCapacity:      1000,
		InitialCharge:        800,
		ChargeRate:           20,
		ImageCost:            50,
		ImageSize:            120,
		CompressionRatio:     4,
		DownlinkRate:         40,
		HousekeepingInterval: 10 * ir.Minute,
		HousekeepingDrain:    5,
	}
}

// ParseSpacecraftConfig reads a plan's config map over the defaults.
// Returns *ConfigError listing every rejected key.
func ParseSpacecraftConfig(m ir.ValueMap) (SpacecraftConfig, error) {
	cfg := DefaultSpacecraftConfig()
	var errs []ValidationError
	bad := func(key, msg string) {
		errs = append(errs, ValidationError{Field: "config." + key, Message: msg, Code: ErrInvalidConfig})
	}
	ints := []struct {
		key string
		dst *int64
		min int64
	}{
		{"battery_capacity", &cfg.BatteryCapacity, 1},
		{"initial_charge", &cfg.InitialCharge, 0},
		{"charge_rate", &cfg.ChargeRate, 0},
		{"image_cost", &cfg.ImageCost, 0},
		{"image_size", &cfg.ImageSize, 1},
		{"compression_ratio", &cfg.CompressionRatio, 1},
		{"downlink_rate", &cfg.DownlinkRate, 1},
		{"housekeeping_drain", &cfg.HousekeepingDrain, 0},
	}
	known := map[string]bool{"housekeeping_interval": true}
	for _, f := range ints {
		known[f.key] = true
		n, err := m.Int(f.key, *f.dst)
		if err != nil {
			bad(f.key, err.Error())
			continue
		}
		if n < f.min {
			bad(f.key, fmt.Sprintf("must be at least %d, got %d", f.min, n))
			continue
		}
		*f.dst = n
	}
	if d, err := DurationArg(m, "housekeeping_interval", cfg.HousekeepingInterval); err != nil {
		bad("housekeeping_interval", err.Error())
	} else if d <= 0 {
		bad("housekeeping_interval", "must be positive")
	} else {
		cfg.HousekeepingInterval = d
	}
	for _, k := range m.SortedKeys() {
		if !known[k] {
			bad(k, "unknown configuration key")
		}
	}
	if cfg.InitialCharge > cfg.BatteryCapacity {
		bad("initial_charge", fmt.Sprintf("exceeds battery_capacity %d", cfg.BatteryCapacity))
	}
	if len(errs) > 0 {
		return cfg, &ConfigError{Errors: errs}
	}
	return cfg, nil
}

// spacecraft holds the cells the activities act on.
type spacecraft struct {
	cfg     SpacecraftConfig
	battery Counter[Spacecraft]
	data    Counter[Spacecraft]
	mode    Register[Spacecraft, string]
}

// NewSpacecraft builds the demonstration model: a battery that charges and
// drains, an on-board data store filled by imaging and emptied by downlink,
// and an instrument mode register.
func NewSpacecraft(config ir.ValueMap) (*Model[Spacecraft], error) {
	cfg, err := ParseSpacecraftConfig(config)
	if err != nil {
		return nil, err
	}

	b := timeline.NewBuilder[Spacecraft]()
	s := &spacecraft{cfg: cfg}
	if s.battery, err = NewCounter(b, CellBattery, cfg.InitialCharge); err != nil {
		return nil, err
	}
	if s.data, err = NewCounter(b, CellData, 0); err != nil {
		return nil, err
	}
	if s.mode, err = NewRegister[Spacecraft](b, CellMode, ModeIdle); err != nil {
		return nil, err
	}

	m := NewModel(SpacecraftModelName, b.Build())
	for _, at := range []ActivityType[Spacecraft]{
		{
			Name:        ActChargeBattery,
			Description: "charge the battery at charge_rate per minute for duration",
			Validate:    func(a ir.ValueMap) []ValidationError { return CheckArgs(a).Only("duration").Duration("duration").Errors() },
			Task:        s.chargeBattery,
		},
		{
			Name:        ActTakeImage,
			Description: "expose, store the raw image and compress it",
			Validate:    func(a ir.ValueMap) []ValidationError { return CheckArgs(a).Only("exposure").Duration("exposure").Errors() },
			Task:        s.takeImage,
		},
		{
			Name:        ActCompressImage,
			Description: "shrink a stored image by compression_ratio",
			Validate:    func(a ir.ValueMap) []ValidationError { return CheckArgs(a).Only("size").Int("size", 1).Errors() },
			Task:        s.compressImage,
		},
		{
			Name:        ActDownlink,
			Description: "send stored data at downlink_rate per minute",
			Validate:    func(a ir.ValueMap) []ValidationError { return CheckArgs(a).Only("amount").Int("amount", 0).Errors() },
			Task:        s.downlink,
		},
		{
			Name:        ActObserve,
			Description: "wait for min_charge, then observe for duration",
			Validate: func(a ir.ValueMap) []ValidationError {
				return CheckArgs(a).Only("min_charge", "duration").Int("min_charge", 0).Duration("duration").Errors()
			},
			Task: s.observe,
		},
	} {
		if err := m.Register(at); err != nil {
			return nil, err
		}
	}
	err = m.RegisterDaemon(ActivityType[Spacecraft]{
		Name:        ActHousekeepingDaemon,
		Description: "drain housekeeping_drain every housekeeping_interval",
		Task:        s.housekeeping,
	})
	if err != nil {
		return nil, err
	}
	return m, nil
}

func (s *spacecraft) chargeBattery(args ir.ValueMap) engine.Task[Spacecraft] {
	return func(ctx *engine.Context[Spacecraft]) (ir.Value, error) {
		total, err := DurationArg(args, "duration", 10*ir.Minute)
		if err != nil {
			return nil, err
		}
		var added int64
		for elapsed := ir.Zero; elapsed < total; {
			step := min(ir.Minute, total-elapsed)
			if err := ctx.Delay(step); err != nil {
				return nil, err
			}
			elapsed += step

			charge, err := s.battery.Get(ctx.Querier())
			if err != nil {
				return nil, err
			}
			inc := min(s.cfg.ChargeRate*int64(step)/int64(ir.Minute), s.cfg.BatteryCapacity-charge)
			if inc <= 0 {
				continue
			}
			if err := ctx.React(s.battery.Add(inc)); err != nil {
				return nil, err
			}
			added += inc
		}
		return ir.ValueMap{"added": ir.Int(added)}, nil
	}
}

func (s *spacecraft) takeImage(args ir.ValueMap) engine.Task[Spacecraft] {
	return func(ctx *engine.Context[Spacecraft]) (ir.Value, error) {
		exposure, err := DurationArg(args, "exposure", ir.Minute)
		if err != nil {
			return nil, err
		}
		if err := ctx.React(s.mode.Set(ModeImaging)); err != nil {
			return nil, err
		}
		if err := ctx.React(s.battery.Add(-s.cfg.ImageCost)); err != nil {
			return nil, err
		}
		if err := ctx.Delay(exposure); err != nil {
			return nil, err
		}
		if err := ctx.React(s.data.Add(s.cfg.ImageSize)); err != nil {
			return nil, err
		}
		child, err := ctx.SpawnWith(ActCompressImage, ir.ValueMap{"size": ir.Int(s.cfg.ImageSize)})
		if err != nil {
			return nil, err
		}
		if err := ctx.WaitForChildren(); err != nil {
			return nil, err
		}
		if err := ctx.React(s.mode.Set(ModeIdle)); err != nil {
			return nil, err
		}
		return ir.ValueMap{"compressed_by": ir.String(child)}, nil
	}
}

func (s *spacecraft) compressImage(args ir.ValueMap) engine.Task[Spacecraft] {
	return func(ctx *engine.Context[Spacecraft]) (ir.Value, error) {
		size, err := args.Int("size", s.cfg.ImageSize)
		if err != nil {
			return nil, err
		}
		if err := ctx.Delay(30 * ir.Second); err != nil {
			return nil, err
		}
		saved := size - size/s.cfg.CompressionRatio
		if err := ctx.React(s.data.Add(-saved)); err != nil {
			return nil, err
		}
		return ir.ValueMap{"saved": ir.Int(saved)}, nil
	}
}

func (s *spacecraft) downlink(args ir.ValueMap) engine.Task[Spacecraft] {
	return func(ctx *engine.Context[Spacecraft]) (ir.Value, error) {
		amount, err := args.Int("amount", 0)
		if err != nil {
			return nil, err
		}
		if err := ctx.React(s.mode.Set(ModeDownlink)); err != nil {
			return nil, err
		}
		var sent int64
		for {
			volume, err := s.data.Get(ctx.Querier())
			if err != nil {
				return nil, err
			}
			chunk := min(s.cfg.DownlinkRate, volume)
			if amount > 0 {
				chunk = min(chunk, amount-sent)
			}
			if chunk <= 0 {
				break
			}
			if err := ctx.React(s.data.Add(-chunk)); err != nil {
				return nil, err
			}
			sent += chunk
			if err := ctx.Delay(ir.Minute); err != nil {
				return nil, err
			}
		}
		if err := ctx.React(s.mode.Set(ModeIdle)); err != nil {
			return nil, err
		}
		return ir.ValueMap{"sent": ir.Int(sent)}, nil
	}
}

func (s *spacecraft) observe(args ir.ValueMap) engine.Task[Spacecraft] {
	return func(ctx *engine.Context[Spacecraft]) (ir.Value, error) {
		minCharge, err := args.Int("min_charge", s.cfg.BatteryCapacity/2)
		if err != nil {
			return nil, err
		}
		duration, err := DurationArg(args, "duration", 5*ir.Minute)
		if err != nil {
			return nil, err
		}
		charged := engine.When(func(q timeline.Querier[Spacecraft]) bool {
			charge, err := s.battery.Get(q)
			return err == nil && charge >= minCharge
		})
		if err := ctx.WaitUntil(charged); err != nil {
			return nil, err
		}
		started := ctx.Now()
		if err := ctx.React(s.mode.Set(ModeObserving)); err != nil {
			return nil, err
		}
		if err := ctx.React(s.battery.Add(-s.cfg.ImageCost)); err != nil {
			return nil, err
		}
		if err := ctx.Delay(duration); err != nil {
			return nil, err
		}
		if err := ctx.React(s.mode.Set(ModeIdle)); err != nil {
			return nil, err
		}
		return ir.ValueMap{"started": ir.Int(started)}, nil
	}
}

func (s *spacecraft) housekeeping(ir.ValueMap) engine.Task[Spacecraft] {
	return func(ctx *engine.Context[Spacecraft]) (ir.Value, error) {
		for {
			if err := ctx.Delay(s.cfg.HousekeepingInterval); err != nil {
				return nil, err
			}
			charge, err := s.battery.Get(ctx.Querier())
			if err != nil {
				return nil, err
			}
			if drain := min(s.cfg.HousekeepingDrain, charge); drain > 0 {
				if err := ctx.React(s.battery.Add(-drain)); err != nil {
					return nil, err
				}
			}
		}
	}
}
