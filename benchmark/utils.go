package benchmark

import (
	"time"
)

// TestSpin is the entry the server binary calls for load runs.
func TestSpin(storeType string, population int, seconds int) {
	st := SpinStmt{}
	st.SpinTest(storeType, population, time.Duration(seconds)*time.Second)
	st.Stop()
}
