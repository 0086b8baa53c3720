package scroll

import (
	"sync"
	"time"
)

const (
	// hideDelay is how long the floating date chip survives after the
	// last scroll activity.
	hideDelay = time.Second
	// frameInterval coalesces scroll callbacks to roughly one update
	// per animation frame.
	frameInterval = 16 * time.Millisecond
)

// Controller tracks which message is visually focused while the user
// scrolls and drives the transient floating-date affordance.
type Controller struct {
	onChange func(visible bool, date time.Time)

	now   func() time.Time
	delay time.Duration
	frame time.Duration

	mu           sync.Mutex
	focusedID    string
	focusedDate  time.Time
	visible      bool
	lastObserved time.Time
	hideTimer    *time.Timer
}

// NewController builds a Controller. onChange, when not nil, fires on
// every visibility or date transition of the floating chip.
func NewController(onChange func(visible bool, date time.Time)) *Controller {
	return &Controller{
		onChange: onChange,
		now:      time.Now,
		delay:    hideDelay,
		frame:    frameInterval,
	}
}

// Observe is called for the topmost visible message on every scroll
// callback. Repeated observations of the same message inside one frame
// are coalesced; any observation shows the chip and re-arms the hide
// debounce.
func (c *Controller) Observe(messageID string, sentAt time.Time) {
	c.mu.Lock()
	now := c.now()
	sameFrame := messageID == c.focusedID && now.Sub(c.lastObserved) < c.frame
	c.lastObserved = now

	if sameFrame && c.visible {
		if c.hideTimer != nil {
			c.hideTimer.Reset(c.delay)
		}
		c.mu.Unlock()
		return
	}

	dateChanged := !sameDay(c.focusedDate, sentAt)
	c.focusedID = messageID
	c.focusedDate = sentAt
	becameVisible := !c.visible
	c.visible = true

	if c.hideTimer != nil {
		c.hideTimer.Reset(c.delay)
	} else {
		c.hideTimer = time.AfterFunc(c.delay, c.hide)
	}
	date := c.focusedDate
	c.mu.Unlock()

	if (becameVisible || dateChanged) && c.onChange != nil {
		c.onChange(true, date)
	}
}

func (c *Controller) hide() {
	c.mu.Lock()
	if !c.visible {
		c.mu.Unlock()
		return
	}
	c.visible = false
	date := c.focusedDate
	c.mu.Unlock()

	if c.onChange != nil {
		c.onChange(false, date)
	}
}

// FloatingDate reports the chip's current date and visibility.
func (c *Controller) FloatingDate() (time.Time, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.focusedDate, c.visible
}

// FocusedMessage returns the id of the message currently in focus.
func (c *Controller) FocusedMessage() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.focusedID
}

// Stop cancels the pending hide timer. Must run on conversation switch
// or teardown so a stale callback cannot fire for a view that is gone.
func (c *Controller) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.hideTimer != nil {
		c.hideTimer.Stop()
		c.hideTimer = nil
	}
	c.visible = false
	c.focusedID = ""
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
