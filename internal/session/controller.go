package session

import (
	"context"
	"sync"
	"time"

	"github.com/redmonkez12/loyalty-card/internal/account"
	"github.com/redmonkez12/loyalty-card/internal/detector"
	"github.com/redmonkez12/loyalty-card/internal/identity"
	"github.com/redmonkez12/loyalty-card/internal/logging"
	"github.com/redmonkez12/loyalty-card/internal/redemption"
)

type EventKind string

const (
	EventModeChanged       EventKind = "mode_changed"
	EventRecordUpdated     EventKind = "record_updated"
	EventPointGained       EventKind = "point_gained"
	EventRedemptionOutcome EventKind = "redemption_outcome"
	EventCameraDenied      EventKind = "camera_denied"
	EventFeedUnavailable   EventKind = "feed_unavailable"
)

// Event is what the presentation layer receives
type Event struct {
	Kind        EventKind             `json:"kind"`
	Mode        Mode                  `json:"mode,omitempty"`
	Record      *account.Record       `json:"record,omitempty"`
	PointGained *detector.PointGained `json:"point_gained,omitempty"`
	Outcome     *redemption.Outcome   `json:"outcome,omitempty"`
	Error       string                `json:"error,omitempty"`
}

// View is the controller's current resolution
type View struct {
	Mode     Mode               `json:"mode"`
	Identity *identity.Identity `json:"identity,omitempty"`
	Record   *account.Record    `json:"record,omitempty"`
}

type IdentitySource interface {
	Watch() (<-chan identity.State, func())
}

type RecordFeed interface {
	Subscribe(ctx context.Context, id string) (account.Subscription, error)
}

// Scanner is the staff-side redemption switch
type Scanner interface {
	Enable(operatorID string)
	Disable()
}

const (
	listenerBuffer      = 64
	defaultRetryBackoff = 2 * time.Second
)

// Controller serialises identity changes and record snapshots on a single
// goroutine. It keeps one record subscription for the signed-in identity,
// feeds it through a fresh change detector, and switches the scanner on and
// off as the device enters and leaves staff mode.
type Controller struct {
	identities IdentitySource
	records    RecordFeed
	scanner    Scanner
	camera     Camera
	policy     *Policy
	logger     *logging.Logger
	now        func() time.Time

	retryBackoff time.Duration

	mu        sync.RWMutex
	view      View
	listeners map[uint64]chan Event
	nextID    uint64
}

func NewController(
	identities IdentitySource,
	records RecordFeed,
	scanner Scanner,
	camera Camera,
	policy *Policy,
	logger *logging.Logger,
) *Controller {
	return &Controller{
		identities:   identities,
		records:      records,
		scanner:      scanner,
		camera:       camera,
		policy:       policy,
		logger:       logger,
		now:          time.Now,
		retryBackoff: defaultRetryBackoff,
		view:         View{Mode: ModeLoading},
		listeners:    make(map[uint64]chan Event),
	}
}

// feed is the subscription state owned by Run
type feed struct {
	targetID string
	epoch    uint64
	sub      account.Subscription
	cancel   context.CancelFunc
	updates  <-chan account.Snapshot
	detector *detector.Detector
	record   *account.Record
	retry    <-chan time.Time
}

func (f *feed) close() {
	if f.sub != nil {
		_ = f.sub.Close()
		f.cancel()
	}
	f.sub = nil
	f.cancel = nil
	f.updates = nil
	f.detector = nil
	f.retry = nil
}

// Run processes events until ctx is cancelled or the identity source closes
func (c *Controller) Run(ctx context.Context) error {
	states, stopWatching := c.identities.Watch()
	defer stopWatching()

	var state identity.State
	f := &feed{}
	defer func() {
		f.close()
		c.scanner.Disable()
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case st, ok := <-states:
			if !ok {
				return nil
			}
			state = st

			newID := ""
			if st.Identity != nil {
				newID = st.Identity.ID
			}
			// a new epoch with the same ID is a sign-out and sign-in that
			// arrived as one state
			if newID != f.targetID || st.Epoch != f.epoch {
				f.close()
				f.record = nil
				f.targetID = newID
				f.epoch = st.Epoch
				if newID != "" {
					c.subscribe(ctx, f)
				}
			}
			c.apply(ctx, state, f.record)

		case snap, ok := <-f.updates:
			if !ok {
				c.logger.Warn("record feed closed, resubscribing", "identity_id", f.targetID)
				f.close()
				f.retry = time.After(c.retryBackoff)
				continue
			}
			c.handleSnapshot(ctx, state, f, snap)

		case <-f.retry:
			f.retry = nil
			if f.targetID != "" && f.sub == nil {
				c.subscribe(ctx, f)
			}
		}
	}
}

func (c *Controller) subscribe(ctx context.Context, f *feed) {
	subCtx, cancel := context.WithCancel(ctx)
	sub, err := c.records.Subscribe(subCtx, f.targetID)
	if err != nil {
		cancel()
		c.logger.Error("failed to subscribe to record", "identity_id", f.targetID, "error", err)
		c.emit(Event{Kind: EventFeedUnavailable, Error: err.Error()})
		f.retry = time.After(c.retryBackoff)
		return
	}

	f.sub = sub
	f.cancel = cancel
	f.updates = sub.Updates()
	f.detector = detector.New(c.now)
}

func (c *Controller) handleSnapshot(ctx context.Context, state identity.State, f *feed, snap account.Snapshot) {
	f.record = snap.Record

	var gained *detector.PointGained
	if snap.Record != nil && f.detector.Observe(snap.Record.Points) {
		if ev, ok := f.detector.Take(); ok {
			gained = &ev
		}
	}

	mode := c.apply(ctx, state, f.record)
	c.emit(Event{Kind: EventRecordUpdated, Mode: mode, Record: copyRecord(f.record)})

	if gained != nil && mode == ModeCustomer {
		c.logger.Info("point gained", "identity_id", f.targetID, "stamp_index", gained.StampIndex)
		c.emit(Event{Kind: EventPointGained, Mode: mode, PointGained: gained})
	}
}

// apply recomputes the mode and performs transition side effects
func (c *Controller) apply(ctx context.Context, state identity.State, rec *account.Record) Mode {
	mode := Resolve(state, rec, c.policy)

	c.mu.Lock()
	prev := c.view.Mode
	c.view = View{Mode: mode, Identity: state.Identity, Record: copyRecord(rec)}
	c.mu.Unlock()

	if mode == prev {
		return mode
	}

	c.logger.Info("mode changed", "from", prev, "to", mode)

	if prev == ModeStaff {
		c.scanner.Disable()
	}
	if mode == ModeStaff {
		c.scanner.Enable(state.Identity.ID)
		go c.requestCamera(ctx)
	}

	c.emit(Event{Kind: EventModeChanged, Mode: mode})
	return mode
}

func (c *Controller) requestCamera(ctx context.Context) {
	if err := c.camera.RequestAuthorization(ctx); err != nil {
		c.logger.Warn("camera authorization denied", "error", err)
		c.emit(Event{Kind: EventCameraDenied, Error: err.Error()})
	}
}

// NotifyOutcome forwards a redemption outcome to listeners
func (c *Controller) NotifyOutcome(outcome redemption.Outcome) {
	c.emit(Event{Kind: EventRedemptionOutcome, Mode: c.View().Mode, Outcome: &outcome})
}

func (c *Controller) View() View {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v := c.view
	v.Record = copyRecord(v.Record)
	return v
}

// Events registers a listener. Events are dropped for listeners that fall
// more than a buffer behind.
func (c *Controller) Events() (<-chan Event, func()) {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := c.nextID
	c.nextID++
	ch := make(chan Event, listenerBuffer)
	c.listeners[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			delete(c.listeners, id)
			close(ch)
		})
	}
}

func (c *Controller) emit(ev Event) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for _, ch := range c.listeners {
		select {
		case ch <- ev:
		default:
			c.logger.Warn("dropping event for slow listener", "kind", ev.Kind)
		}
	}
}

func copyRecord(rec *account.Record) *account.Record {
	if rec == nil {
		return nil
	}
	cp := *rec
	return &cp
}
