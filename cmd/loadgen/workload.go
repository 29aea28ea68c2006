package main

import (
	"fmt"
	"math/rand"

	"github.com/punchamoorthee/bankclient/internal/domain"
)

// Sandbox account range.
const (
	firstAccount  = 1000
	totalAccounts = 100
)

// generateRequests builds n transfers of 1.00. Under "hotspot" 90% of
// traffic moves between the first two accounts.
func generateRequests(rng *rand.Rand, workload string, n int) []domain.TransferRequest {
	reqs := make([]domain.TransferRequest, n)
	for i := range reqs {
		from, to := pickAccounts(rng, workload)
		reqs[i] = domain.TransferRequest{
			FromAccount: fmt.Sprintf("ACC%04d", from),
			ToAccount:   fmt.Sprintf("ACC%04d", to),
			Amount:      1,
		}
	}
	return reqs
}

func pickAccounts(rng *rand.Rand, workload string) (int, int) {
	if workload == "hotspot" && rng.Float32() < 0.90 {
		if rng.Float32() < 0.5 {
			return firstAccount, firstAccount + 1
		}
		return firstAccount + 1, firstAccount
	}

	a := rng.Intn(totalAccounts) + firstAccount
	b := rng.Intn(totalAccounts) + firstAccount
	for a == b {
		b = rng.Intn(totalAccounts) + firstAccount
	}
	return a, b
}
