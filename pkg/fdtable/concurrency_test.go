// Concurrency: translate under contention (I1 holding across threads).
package fdtable_test

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JustinCappos/fdtables/pkg/fdtable"
)

func Test_Translate_Is_Stable_Under_Concurrent_Readers(t *testing.T) {
	fdtable.ResetForTesting()

	fdtable.InitEmptyCage(1)

	v, err := fdtable.Allocate(1, 777, false, 0)
	require.NoError(t, err)

	const goroutines = 16
	const iterations = 10000

	var wg sync.WaitGroup

	errs := make(chan error, goroutines)

	for range goroutines {
		wg.Add(1)

		go func() {
			defer wg.Done()

			for range iterations {
				realfd, err := fdtable.Translate(1, v)
				if err != nil {
					errs <- err

					return
				}

				if realfd != 777 {
					errs <- fmt.Errorf("translate returned realfd %d, want 777", realfd)

					return
				}
			}
		}()
	}

	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}
}

func Test_Operations_On_Distinct_Cages_Do_Not_Block_Each_Other(t *testing.T) {
	fdtable.ResetForTesting()

	fdtable.InitEmptyCage(1)
	fdtable.InitEmptyCage(2)

	var wg sync.WaitGroup

	errs := make(chan error, 2)

	for _, cageid := range []uint64{1, 2} {
		wg.Add(1)

		go func(cageid uint64) {
			defer wg.Done()

			for range 1000 {
				v, err := fdtable.Allocate(cageid, 42, false, 0)
				if err != nil {
					errs <- err

					return
				}

				if err := fdtable.Close(cageid, v); err != nil {
					errs <- err

					return
				}
			}
		}(cageid)
	}

	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}
}
