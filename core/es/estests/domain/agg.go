package domain

import (
	"encoding/json"
	"fmt"

	"github.com/streamfold/eskit/core/es"
)

type (
	Account struct {
		es.BaseAggregate

		Balance     int64 `json:"balance"`
		NumDeposits int   `json:"num_deposits"`
		NumEvents   int   `json:"num_events"`
	}

	Deposited struct {
		Amount int64 `json:"amount"`
	}

	Withdrawn struct {
		Amount int64 `json:"amount"`
	}
)

func (a *Account) Snapshot() (data []byte, err error) { return json.Marshal(a) }
func (a *Account) RestoreSnapshot(data []byte) error  { return json.Unmarshal(data, a) }
func (a *Account) GetAggType() string                 { return "account" }
func (a *Account) Register(r es.Registrar) {
	es.RegisterEvents(r, es.Event[Deposited](), es.Event[Withdrawn]())
}

func (a *Account) Apply(event any) error {
	switch e := event.(type) {
	case *Deposited:
		a.Balance += e.Amount
		a.NumDeposits++
		a.NumEvents++
		return nil
	case *Withdrawn:
		a.Balance -= e.Amount
		a.NumEvents++
		return nil
	}
	return a.BaseAggregate.Apply(event)
}

var _ es.Snapshottable = &Account{}

// === Commands ===

func (a *Account) Deposit(amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("deposit amount must be positive")
	}
	return es.RaiseAndApply(a, &Deposited{Amount: amount})
}

func (a *Account) Withdraw(amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("withdrawal amount must be positive")
	}
	if amount > a.Balance {
		return fmt.Errorf("insufficient funds: balance %d, requested %d", a.Balance, amount)
	}
	return es.RaiseAndApply(a, &Withdrawn{Amount: amount})
}

func NewAccount(id string) *Account {
	a := &Account{}
	a.SetID(id)
	return a
}
