package tensor

import (
	"math/rand"
	"sync"
	"time"
)

var (
	rngLock sync.Mutex
	rng     = rand.New(rand.NewSource(time.Now().UnixNano()))
)

// Seed resets the generator behind Randn so weight initialisation is
// reproducible across runs.
func Seed(seed int64) {
	rngLock.Lock()
	rng = rand.New(rand.NewSource(seed))
	rngLock.Unlock()
}

func Randn(shape ...int) *Tensor {
	t := Zeros(shape...)
	rngLock.Lock()
	for i := range t.data {
		t.data[i] = rng.NormFloat64()
	}
	rngLock.Unlock()
	return t
}
