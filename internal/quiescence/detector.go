// Package quiescence реализует точный барьер по счётчику сообщений в полёте.
//
// Каждое отправленное сообщение увеличивает счётчик (Begin), а завершение его
// обработчика уменьшает (Done). Сообщения, порождённые обработчиком, учитываются
// до его Done, поэтому ноль означает, что работы в системе не осталось.
package quiescence

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrTimeout: барьер не сработал за отведённое время
var ErrTimeout = errors.New("quiescence not reached")

// TimeoutError содержит состояние детектора в момент срабатывания сторожа
type TimeoutError struct {
	After    time.Duration
	InFlight int64
	Pending  int
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%v after %s: %d messages in flight, %d callbacks pending",
		ErrTimeout, e.After, e.InFlight, e.Pending)
}

func (e *TimeoutError) Unwrap() error { return ErrTimeout }

// Registration: одноразовая регистрация обратного вызова
type Registration struct {
	d     *Detector
	cb    func()
	fired bool
}

// Cancel снимает ещё не сработавшую регистрацию
func (r *Registration) Cancel() {
	if r == nil || r.d == nil {
		return
	}
	r.d.cancel(r)
}

// Detector: глобальный барьер тишины
type Detector struct {
	mu        sync.Mutex
	inFlight  int64
	pending   []*Registration
	timeout   time.Duration
	onTimeout func(error)
	timer     *time.Timer
	gen       uint64 // номер текущего ожидания, защищает от устаревших таймеров
}

// NewDetector создаёт детектор. timeout <= 0 отключает сторожевой таймер.
func NewDetector(timeout time.Duration, onTimeout func(error)) *Detector {
	return &Detector{timeout: timeout, onTimeout: onTimeout}
}

// Begin учитывает новое сообщение в полёте
func (d *Detector) Begin() {
	d.mu.Lock()
	d.inFlight++
	d.mu.Unlock()
}

// Done отмечает, что обработка сообщения завершена
func (d *Detector) Done() {
	d.mu.Lock()
	d.inFlight--
	if d.inFlight < 0 {
		d.mu.Unlock()
		panic("quiescence: Done without matching Begin")
	}
	fire := d.collectLocked()
	d.mu.Unlock()

	for _, r := range fire {
		r.cb()
	}
}

// AwaitQuiescence регистрирует одноразовый обратный вызов на момент, когда
// счётчик сообщений обнулится. Если работы нет уже сейчас, вызов немедленный.
func (d *Detector) AwaitQuiescence(cb func()) *Registration {
	r := &Registration{d: d, cb: cb}

	d.mu.Lock()
	if d.inFlight == 0 {
		r.fired = true
		d.mu.Unlock()
		cb()
		return r
	}
	d.pending = append(d.pending, r)
	if len(d.pending) == 1 {
		d.armLocked()
	}
	d.mu.Unlock()
	return r
}

// InFlight возвращает текущее число сообщений в полёте
func (d *Detector) InFlight() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.inFlight
}

// Pending возвращает число ожидающих регистраций
func (d *Detector) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}

func (d *Detector) collectLocked() []*Registration {
	if d.inFlight != 0 || len(d.pending) == 0 {
		return nil
	}
	fire := d.pending
	d.pending = nil
	for _, r := range fire {
		r.fired = true
	}
	d.disarmLocked()
	return fire
}

func (d *Detector) cancel(r *Registration) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if r.fired {
		return
	}
	for i, p := range d.pending {
		if p == r {
			d.pending = append(d.pending[:i], d.pending[i+1:]...)
			r.fired = true
			break
		}
	}
	if len(d.pending) == 0 {
		d.disarmLocked()
	}
}

func (d *Detector) armLocked() {
	d.gen++
	if d.timeout <= 0 {
		return
	}
	gen := d.gen
	d.timer = time.AfterFunc(d.timeout, func() { d.expire(gen) })
}

func (d *Detector) disarmLocked() {
	d.gen++
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}

func (d *Detector) expire(gen uint64) {
	d.mu.Lock()
	if gen != d.gen || len(d.pending) == 0 {
		d.mu.Unlock()
		return
	}
	err := &TimeoutError{After: d.timeout, InFlight: d.inFlight, Pending: len(d.pending)}
	d.timer = nil
	d.mu.Unlock()

	if d.onTimeout != nil {
		d.onTimeout(err)
	}
}
