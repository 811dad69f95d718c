package optim

import "math"

// Schedule maps an epoch count to a learning rate. Implementations are
// pure functions of their arguments.
type Schedule interface {
	LR(epoch int, baseLR float64) float64
	Name() string
}

// StepLR multiplies the rate by Gamma every StepSize epochs.
type StepLR struct {
	StepSize int
	Gamma    float64
}

func (s StepLR) LR(epoch int, baseLR float64) float64 {
	return baseLR * math.Pow(s.Gamma, float64(epoch/s.StepSize))
}

func (s StepLR) Name() string { return "StepLR" }

type ExponentialLR struct {
	Gamma float64
}

func (s ExponentialLR) LR(epoch int, baseLR float64) float64 {
	return baseLR * math.Pow(s.Gamma, float64(epoch))
}

func (s ExponentialLR) Name() string { return "ExponentialLR" }

// CosineAnnealingLR anneals from the base rate to EtaMin over TMax epochs.
// Past TMax the rate follows the same cosine back up, with period 2*TMax.
type CosineAnnealingLR struct {
	TMax   int
	EtaMin float64
}

func (s CosineAnnealingLR) LR(epoch int, baseLR float64) float64 {
	if s.TMax <= 0 {
		return baseLR
	}
	return s.EtaMin + (baseLR-s.EtaMin)*(1+math.Cos(math.Pi*float64(epoch)/float64(s.TMax)))/2
}

func (s CosineAnnealingLR) Name() string { return "CosineAnnealingLR" }

// Scheduler drives an optimizer's learning rate from a Schedule, one
// epoch per Step.
type Scheduler struct {
	opt      Optimizer
	schedule Schedule
	baseLR   float64
	epoch    int
}

func NewScheduler(opt Optimizer, schedule Schedule) *Scheduler {
	return &Scheduler{opt: opt, schedule: schedule, baseLR: opt.LR()}
}

func (s *Scheduler) Step() {
	s.epoch++
	s.opt.SetLR(s.schedule.LR(s.epoch, s.baseLR))
}

func (s *Scheduler) Epoch() int {
	return s.epoch
}

// SetEpoch restores the schedule position, e.g. when resuming.
func (s *Scheduler) SetEpoch(epoch int) {
	s.epoch = epoch
	s.opt.SetLR(s.schedule.LR(epoch, s.baseLR))
}

func (s *Scheduler) Name() string {
	return s.schedule.Name()
}
