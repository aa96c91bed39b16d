package market

// transferPlan is a validated balance movement. Computing it performs every
// check; applying it only writes.
type transferPlan struct {
	from, to     [20]byte
	asset        string
	amount       uint64
	fromAfter    uint64
	toAfter      uint64
	selfTransfer bool
}

func planTransfer(t *txn, from, to [20]byte, asset string, amount uint64) (*transferPlan, error) {
	fromBal, err := t.store.balance(from, asset)
	if err != nil {
		return nil, err
	}
	if fromBal < amount {
		return nil, ErrInsufficientFunds
	}
	plan := &transferPlan{from: from, to: to, asset: asset, amount: amount}
	if from == to {
		plan.selfTransfer = true
		return plan, nil
	}
	plan.fromAfter, err = checkedSub(fromBal, amount)
	if err != nil {
		return nil, err
	}
	toBal, err := t.store.balance(to, asset)
	if err != nil {
		return nil, err
	}
	plan.toAfter, err = checkedAdd(toBal, amount)
	if err != nil {
		return nil, err
	}
	return plan, nil
}

func (p *transferPlan) apply(t *txn) error {
	if p == nil || p.selfTransfer || p.amount == 0 {
		return nil
	}
	if err := t.store.setBalance(p.from, p.asset, p.fromAfter); err != nil {
		return err
	}
	return t.store.setBalance(p.to, p.asset, p.toAfter)
}

// Deposit credits amount of asset to account. Only the registry authority may
// mint payment balances.
func (e *Engine) Deposit(caller, account [20]byte, asset string, amount uint64) (uint64, error) {
	if amount == 0 {
		return 0, ErrInvalidAmount
	}
	symbol, err := e.paymentAsset(asset)
	if err != nil {
		return 0, err
	}
	var balance uint64
	err = e.update(func(t *txn) error {
		reg, err := t.store.registry()
		if err != nil {
			return err
		}
		if caller != reg.Authority {
			return ErrUnauthorized
		}
		current, err := t.store.balance(account, symbol)
		if err != nil {
			return err
		}
		balance, err = checkedAdd(current, amount)
		if err != nil {
			return err
		}
		if err := t.store.setBalance(account, symbol, balance); err != nil {
			return err
		}
		t.emit(FundsDeposited{Account: account, Asset: symbol, Amount: amount, Balance: balance})
		return nil
	})
	if err != nil {
		return 0, err
	}
	return balance, nil
}

// Balance returns the amount of asset held by account.
func (e *Engine) Balance(account [20]byte, asset string) (uint64, error) {
	symbol, err := NormalizePaymentAsset(asset)
	if err != nil {
		return 0, err
	}
	var out uint64
	err = e.view(func(s *marketStore) error {
		bal, err := s.balance(account, symbol)
		out = bal
		return err
	})
	return out, err
}

// WithdrawTreasury moves collected royalties from the treasury for asset to
// recipient. Authority only.
func (e *Engine) WithdrawTreasury(caller [20]byte, asset string, recipient [20]byte, amount uint64) error {
	if amount == 0 {
		return ErrInvalidAmount
	}
	symbol, err := NormalizePaymentAsset(asset)
	if err != nil {
		return err
	}
	return e.update(func(t *txn) error {
		reg, err := t.store.registry()
		if err != nil {
			return err
		}
		if caller != reg.Authority {
			return ErrUnauthorized
		}
		plan, err := planTransfer(t, TreasuryAddress(symbol), recipient, symbol, amount)
		if err != nil {
			return err
		}
		if err := plan.apply(t); err != nil {
			return err
		}
		t.emit(TreasuryWithdrawn{Asset: symbol, Recipient: recipient, Amount: amount})
		return nil
	})
}
