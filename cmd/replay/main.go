// cmd/replay drives a Refill Supervisor through a scripted sequence of
// operator actions and simulated nozzle state, without real hardware or
// a fleet directory — the spec §8 scenarios (S1-S6) made runnable.
// Grounded on teacher cmd/backtest/main.go: flag-driven config, a
// component driven by a recorded series, a summary printed at the end.
//
// Usage:
//
//	go run ./cmd/replay --scenario=s1 --speed=10
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/fleetops/refilld/config"
	"github.com/fleetops/refilld/internal/health"
	"github.com/fleetops/refilld/internal/model"
	"github.com/fleetops/refilld/internal/nozzleport"
	"github.com/fleetops/refilld/internal/stability"
	"github.com/fleetops/refilld/internal/supervisor"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)

	name := flag.String("scenario", "s1", "built-in scenario to run: s1, s2, s4, s5 or s6, or a path to a JSON scenario file")
	speed := flag.Float64("speed", 1, "playback speed multiplier (delays divided by this)")
	flag.Parse()

	scn, err := loadScenario(*name)
	if err != nil {
		log.Fatalf("[replay] %v", err)
	}
	fmt.Printf("replaying %q\n", scn.Name)

	cfg := scenarioConfig()
	port := newReplayPort(scn.DispenseLPS)
	dir := &replayDirectory{vehicle: scn.Vehicle}
	store := newReplayStore()
	monitor := health.New(2*cfg.NozzleHeartbeatBudget, cfg.NozzleHeartbeatBudget, cfg.AppCommBudgetActive)
	filter := stability.New(cfg.MeterStabilityN, cfg.MeterStabilityDuration)
	sink := &printSink{}

	sv := supervisor.New(supervisor.Deps{
		Cfg:       cfg,
		Port:      port,
		Directory: dir,
		Store:     store,
		Monitor:   monitor,
		Filter:    filter,
		Sink:      sink,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	go sv.Run(ctx)

	runSteps(ctx, sv, port, dir, scn, *speed)

	final := sv.Status(ctx)
	fmt.Println()
	fmt.Println("replay complete")
	fmt.Printf("  final state:   %s\n", final.State)
	fmt.Printf("  meter:         current=%s last_stable=%s\n", final.Meter.Current, final.Meter.LastStable)
	if final.Transaction != nil {
		fmt.Printf("  transaction:   id=%d dispensed=%s\n", final.Transaction.ID, final.Transaction.DispensedLiters)
	}
	if final.Message != "" {
		fmt.Printf("  message:       %s\n", final.Message)
	}
	fmt.Printf("  transitions:   %d\n", sink.count())
}

func scenarioConfig() *config.Config {
	return &config.Config{
		NozzleID:               "0076",
		TankID:                 1,
		UARTResponseTimeout:    5 * time.Second,
		RFIDRetryInterval:      5 * time.Second,
		RFIDTotalBudget:        180 * time.Second,
		DRFSubmitTimeout:       120 * time.Second,
		NozzleHeartbeatBudget:  40 * time.Second,
		AppCommBudgetActive:    600 * time.Second,
		AppInformTimeout:       10 * time.Second,
		MeterReadTimeout:       5 * time.Second,
		MeterStabilityN:        2,
		MeterStabilityDuration: 5 * time.Second,
		PersistStepLiters:      1.0,
		MaxRFIDRetries:         100,
		TickInterval:           50 * time.Millisecond,
		MaxInterruptDuration:   15 * time.Second,
	}
}

// ── scenario script ──

type vehicleSpec struct {
	Tag            string  `json:"tag"`
	FleetNumber    string  `json:"fleetNumber"`
	CapacityLiters float64 `json:"capacityLiters"`
}

type step struct {
	AfterMs     int64   `json:"afterMs"`
	Action      string  `json:"action"` // start|presentTag|clearTag|submitOdometer|forceStop|operation|disconnect|setMeter
	Kilometers  int     `json:"kilometers,omitempty"`
	Request     string  `json:"request,omitempty"`
	MeterLiters float64 `json:"meterLiters,omitempty"`
}

type scenario struct {
	Name        string      `json:"name"`
	Vehicle     vehicleSpec `json:"vehicle"`
	DispenseLPS float64     `json:"dispenseLPS"`
	Steps       []step      `json:"steps"`
}

// loadScenario resolves one of the built-in scripts (s1, s2, s4, s5, s6) by name, or
// reads nameOrPath as a JSON scenario file if it doesn't match a
// built-in name.
func loadScenario(nameOrPath string) (scenario, error) {
	if scn, ok := builtinScenarios[nameOrPath]; ok {
		return scn, nil
	}
	b, err := os.ReadFile(nameOrPath)
	if err != nil {
		return scenario{}, fmt.Errorf("unknown scenario %q and no such file: %w", nameOrPath, err)
	}
	var scn scenario
	if err := json.Unmarshal(b, &scn); err != nil {
		return scenario{}, fmt.Errorf("parse scenario file %q: %w", nameOrPath, err)
	}
	return scn, nil
}

var builtinScenarios = map[string]scenario{
	"s1": {
		Name:        "S1 happy path, 12.3L refill",
		Vehicle:     vehicleSpec{Tag: "E200001D8914005717701BFC", FleetNumber: "TRK-42", CapacityLiters: 100},
		DispenseLPS: 3.0,
		Steps: []step{
			{AfterMs: 0, Action: "start"},
			{AfterMs: 200, Action: "presentTag"},
			{AfterMs: 400, Action: "submitOdometer", Kilometers: 250},
			{AfterMs: 5200, Action: "forceStop"},
		},
	},
	"s2": {
		Name:        "S2 unknown tag, clears and keeps polling",
		Vehicle:     vehicleSpec{Tag: "E200001D8914005717701BFC", FleetNumber: "TRK-42", CapacityLiters: 100},
		DispenseLPS: 0,
		Steps: []step{
			{AfterMs: 0, Action: "start"},
			{AfterMs: 200, Action: "presentUnknownTag"},
		},
	},
	"s4": {
		Name:        "S4 zero-liter dispense, force-stopped immediately",
		Vehicle:     vehicleSpec{Tag: "E200001D8914005717701BFC", FleetNumber: "TRK-42", CapacityLiters: 100},
		DispenseLPS: 0,
		Steps: []step{
			{AfterMs: 0, Action: "start"},
			{AfterMs: 200, Action: "presentTag"},
			{AfterMs: 400, Action: "submitOdometer", Kilometers: 250},
			{AfterMs: 600, Action: "forceStop"},
		},
	},
	"s5": {
		Name:        "S5 tank cap reached, forced to Idle",
		Vehicle:     vehicleSpec{Tag: "E200001D8914005717701BFC", FleetNumber: "TRK-42", CapacityLiters: 5},
		DispenseLPS: 50.0,
		Steps: []step{
			{AfterMs: 0, Action: "start"},
			{AfterMs: 200, Action: "presentTag"},
			{AfterMs: 400, Action: "submitOdometer", Kilometers: 250},
		},
	},
	"s6": {
		Name:        "S6 odometer out of range, rejected and retried in AwaitingOdometer",
		Vehicle:     vehicleSpec{Tag: "E200001D8914005717701BFC", FleetNumber: "TRK-42", CapacityLiters: 100},
		DispenseLPS: 0,
		Steps: []step{
			{AfterMs: 0, Action: "start"},
			{AfterMs: 200, Action: "presentTag"},
			{AfterMs: 400, Action: "submitOdometer", Kilometers: 9999},
		},
	},
}

// runSteps executes scn's timeline in order, sleeping between steps by
// the scripted delta divided by speed.
func runSteps(ctx context.Context, sv *supervisor.Supervisor, port *replayPort, dir *replayDirectory, scn scenario, speed float64) {
	if speed <= 0 {
		speed = 1
	}
	var elapsed time.Duration
	for _, st := range scn.Steps {
		target := time.Duration(st.AfterMs) * time.Millisecond
		if target > elapsed {
			time.Sleep(time.Duration(float64(target-elapsed) / speed))
			elapsed = target
		}

		switch st.Action {
		case "start":
			res := sv.Start(ctx)
			fmt.Printf("[replay] start -> %v\n", res)
		case "presentTag":
			port.setTag(model.Tag(scn.Vehicle.Tag))
		case "presentUnknownTag":
			port.setTag(model.Tag("AAAAAAAAAAAAAAAAAAAAAAAA"))
		case "clearTag":
			port.setTag(model.NoTag)
		case "submitOdometer":
			res := sv.SubmitOdometer(ctx, st.Kilometers)
			fmt.Printf("[replay] submit odometer %d -> %v\n", st.Kilometers, res)
		case "forceStop":
			res := sv.ForceStop(ctx)
			fmt.Printf("[replay] force-stop -> %v\n", res)
		case "operation":
			res := sv.Operation(ctx, st.Request, st.Kilometers)
			fmt.Printf("[replay] operation %q -> %v\n", st.Request, res)
		case "disconnect":
			port.disconnect()
		case "setMeter":
			port.setMeter(st.MeterLiters)
		default:
			log.Printf("[replay] unknown step action %q, skipping", st.Action)
		}
	}
}

// ── in-process nozzle simulation, mirroring cmd/nozzlesim's simulator
// logic without the TCP round-trip ──

type replayPort struct {
	dispenseLPS float64
	events      chan model.NozzleEvent

	mu           sync.Mutex
	tag          model.Tag
	solenoidOpen bool
	meterLiters  float64
	lastTick     time.Time
}

func newReplayPort(dispenseLPS float64) *replayPort {
	return &replayPort{
		dispenseLPS: dispenseLPS,
		events:      make(chan model.NozzleEvent, 16),
		tag:         model.NoTag,
		lastTick:    time.Now(),
	}
}

func (p *replayPort) setTag(tag model.Tag) {
	p.mu.Lock()
	p.tag = tag
	p.mu.Unlock()
}

func (p *replayPort) setMeter(v float64) {
	p.mu.Lock()
	p.meterLiters = v
	p.mu.Unlock()
}

func (p *replayPort) disconnect() {
	close(p.events)
}

func (p *replayPort) advance() {
	now := time.Now()
	elapsed := now.Sub(p.lastTick)
	p.lastTick = now
	if p.solenoidOpen {
		p.meterLiters += p.dispenseLPS * elapsed.Seconds()
	}
}

func (p *replayPort) Send(ctx context.Context, verb string, args ...string) (model.NozzleEvent, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.advance()

	switch verb {
	case nozzleport.VerbHeartbeat:
		return model.NozzleEvent{Family: nozzleport.VerbHeartbeat, Args: []string{"0"}}, nil
	case nozzleport.VerbMeterRead:
		return model.NozzleEvent{Family: nozzleport.VerbMeterRead, Args: []string{fmt.Sprintf("%.3f", p.meterLiters)}}, nil
	case nozzleport.VerbRFIDGet:
		return model.NozzleEvent{Family: nozzleport.VerbRFIDGet, Args: []string{"0076", string(p.tag), "95"}}, nil
	case nozzleport.VerbHLSRead:
		return model.NozzleEvent{Family: nozzleport.VerbHLSRead, Args: []string{"0"}}, nil
	default:
		return model.NozzleEvent{Family: verb}, nil
	}
}

func (p *replayPort) Fire(verb string, args ...string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.advance()

	switch verb {
	case nozzleport.VerbSetSolenoid:
		if len(args) == 1 {
			p.solenoidOpen = args[0] == "1"
		}
	case nozzleport.VerbMeterReset:
		p.meterLiters = 0
	}
	return nil
}

func (p *replayPort) Events() <-chan model.NozzleEvent { return p.events }
func (p *replayPort) Close() error                     { return nil }

// ── in-memory fleet directory and transaction store ──

type replayDirectory struct {
	vehicle vehicleSpec
}

func (d *replayDirectory) AvailableTags(ctx context.Context, tankID int) (map[model.Tag]model.VehicleRecord, error) {
	return map[model.Tag]model.VehicleRecord{
		model.Tag(d.vehicle.Tag): {
			Tag:                model.Tag(d.vehicle.Tag),
			FleetNumber:        d.vehicle.FleetNumber,
			TankCapacityLiters: model.Liters(d.vehicle.CapacityLiters * 1000),
		},
	}, nil
}

func (d *replayDirectory) ValidateTag(ctx context.Context, tankID int, tag model.Tag) (model.VehicleRecord, bool, error) {
	if tag != model.Tag(d.vehicle.Tag) {
		return model.VehicleRecord{}, false, nil
	}
	return model.VehicleRecord{
		Tag:                tag,
		FleetNumber:        d.vehicle.FleetNumber,
		TankCapacityLiters: model.Liters(d.vehicle.CapacityLiters * 1000),
	}, true, nil
}

func (d *replayDirectory) UpdateVehicleHours(ctx context.Context, tag model.Tag, hours float64) error {
	return nil
}

type replayStore struct {
	mu   sync.Mutex
	next int64
	txs  map[int64]*model.Transaction
}

func newReplayStore() *replayStore {
	return &replayStore{txs: make(map[int64]*model.Transaction)}
}

func (s *replayStore) CreateTransaction(ctx context.Context, tag model.Tag, fleetNumber string, startMeter model.Liters, machineHours float64) (*model.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next++
	tx := &model.Transaction{
		ID:           s.next,
		Tag:          tag,
		FleetNumber:  fleetNumber,
		StartMeter:   startMeter,
		MachineHours: machineHours,
		CreatedAt:    time.Now(),
		Status:       model.StatusInProgress,
	}
	s.txs[tx.ID] = tx
	return tx, nil
}

func (s *replayStore) UpdateLiters(ctx context.Context, id int64, liters model.Liters) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if tx, ok := s.txs[id]; ok {
		tx.DispensedLiters = liters
	}
	return nil
}

func (s *replayStore) AddDispensed(ctx context.Context, id int64, liters model.Liters) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if tx, ok := s.txs[id]; ok {
		tx.DispensedLiters += liters
	}
	return nil
}

func (s *replayStore) ClearIncomplete(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.txs, id)
	return nil
}

func (s *replayStore) DeleteTransaction(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.txs, id)
	return nil
}

func (s *replayStore) FlagNeedsReview(ctx context.Context, id int64, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if tx, ok := s.txs[id]; ok {
		tx.Status = model.StatusNeedsReview
	}
	return nil
}

// ── event sink that prints every transition as it happens ──

type printSink struct {
	mu sync.Mutex
	n  int
}

func (s *printSink) Publish(evt model.StateChangeEvent) {
	s.mu.Lock()
	s.n++
	s.mu.Unlock()
	fmt.Printf("[replay] %s -> %s (%s)\n", evt.Transition.From, evt.Transition.To, evt.Transition.Reason)
}

func (s *printSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.n
}
