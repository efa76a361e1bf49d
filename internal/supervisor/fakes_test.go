package supervisor

import (
	"context"
	"errors"
	"sync"

	"github.com/fleetops/refilld/internal/model"
)

type firedCmd struct {
	verb string
	args []string
}

// fakePort is a model.NozzlePort test double. Send is never exercised by
// the supervisor (it only Fires and watches Events), so it simply errors.
type fakePort struct {
	mu     sync.Mutex
	fired  []firedCmd
	events chan model.NozzleEvent
}

func newFakePort() *fakePort {
	return &fakePort{events: make(chan model.NozzleEvent, 256)}
}

func (p *fakePort) Send(ctx context.Context, verb string, args ...string) (model.NozzleEvent, error) {
	return model.NozzleEvent{}, errors.New("fakePort: Send not used by supervisor")
}

func (p *fakePort) Fire(verb string, args ...string) error {
	p.mu.Lock()
	p.fired = append(p.fired, firedCmd{verb: verb, args: append([]string{}, args...)})
	p.mu.Unlock()
	return nil
}

func (p *fakePort) Events() <-chan model.NozzleEvent { return p.events }

func (p *fakePort) Close() error {
	close(p.events)
	return nil
}

func (p *fakePort) push(ev model.NozzleEvent) {
	p.events <- ev
}

func (p *fakePort) firedVerbs() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	verbs := make([]string, len(p.fired))
	for i, f := range p.fired {
		verbs[i] = f.verb
	}
	return verbs
}

func (p *fakePort) solenoidCommands() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []string
	for _, f := range p.fired {
		if f.verb == verbSetSolenoid && len(f.args) > 0 {
			out = append(out, f.args[0])
		}
	}
	return out
}

// fakeDirectory is a model.DirectoryClient test double backed by a plain map.
type fakeDirectory struct {
	tags         map[model.Tag]model.VehicleRecord
	updateErr    error
	updatedHours map[model.Tag]float64
}

func newFakeDirectory() *fakeDirectory {
	return &fakeDirectory{tags: map[model.Tag]model.VehicleRecord{}, updatedHours: map[model.Tag]float64{}}
}

func (d *fakeDirectory) AvailableTags(ctx context.Context, tankID int) (map[model.Tag]model.VehicleRecord, error) {
	return d.tags, nil
}

func (d *fakeDirectory) ValidateTag(ctx context.Context, tankID int, tag model.Tag) (model.VehicleRecord, bool, error) {
	v, ok := d.tags[tag]
	return v, ok, nil
}

func (d *fakeDirectory) UpdateVehicleHours(ctx context.Context, tag model.Tag, hours float64) error {
	if d.updateErr != nil {
		return d.updateErr
	}
	d.updatedHours[tag] = hours
	return nil
}

// fakeStore is a model.TransactionStore test double backed by a map.
type fakeStore struct {
	mu        sync.Mutex
	nextID    int64
	txs       map[int64]*model.Transaction
	createErr error

	updateLitersErr error
	flaggedReasons  []string

	updateLitersCalls int
	addDispensedCalls int
	clearCalls        int
	deleteCalls       int
	flagCalls         int
}

func newFakeStore() *fakeStore {
	return &fakeStore{txs: map[int64]*model.Transaction{}}
}

func (s *fakeStore) CreateTransaction(ctx context.Context, tag model.Tag, fleetNumber string, startMeter model.Liters, machineHours float64) (*model.Transaction, error) {
	if s.createErr != nil {
		return nil, s.createErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	tx := &model.Transaction{
		ID:           s.nextID,
		Tag:          tag,
		FleetNumber:  fleetNumber,
		StartMeter:   startMeter,
		MachineHours: machineHours,
		Status:       model.StatusInitiated,
	}
	s.txs[tx.ID] = tx
	return tx, nil
}

func (s *fakeStore) UpdateLiters(ctx context.Context, id int64, liters model.Liters) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updateLitersCalls++
	if s.updateLitersErr != nil {
		return s.updateLitersErr
	}
	if tx, ok := s.txs[id]; ok {
		tx.DispensedLiters = liters
		tx.Status = model.StatusInProgress
	}
	return nil
}

func (s *fakeStore) AddDispensed(ctx context.Context, id int64, liters model.Liters) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.addDispensedCalls++
	if tx, ok := s.txs[id]; ok {
		tx.DispensedLiters = liters
		tx.Status = model.StatusCompleted
	}
	return nil
}

func (s *fakeStore) ClearIncomplete(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clearCalls++
	return nil
}

func (s *fakeStore) DeleteTransaction(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleteCalls++
	delete(s.txs, id)
	return nil
}

func (s *fakeStore) FlagNeedsReview(ctx context.Context, id int64, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flagCalls++
	s.flaggedReasons = append(s.flaggedReasons, reason)
	return nil
}

func (s *fakeStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.txs)
}

// fakeSink is a model.EventSink test double recording every transition.
type fakeSink struct {
	mu     sync.Mutex
	events []model.StateChangeEvent
}

func newFakeSink() *fakeSink { return &fakeSink{} }

func (f *fakeSink) Publish(evt model.StateChangeEvent) {
	f.mu.Lock()
	f.events = append(f.events, evt)
	f.mu.Unlock()
}

func (f *fakeSink) snapshot() []model.StateChangeEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.StateChangeEvent{}, f.events...)
}
