package blockchain

import (
	"github.com/bitcoincandy/candyd/model"
)

// NotificationType names an event observers can subscribe to. Per activation
// step the chain state sends connected transactions, then the connected
// block, then the tip update.
type NotificationType int

const (
	// NTTransactionRemoved names a mempool conflict eviction. The chain
	// state does not send it: RemoveForBlock reports no evicted entries.
	NTTransactionRemoved NotificationType = iota

	// NTTransactionConnected fires for each transaction of a connected
	// block, in block order.
	NTTransactionConnected

	// NTTransactionDisconnected fires for each transaction returned to
	// zero-confirmation state by a disconnect.
	NTTransactionDisconnected

	// NTBlockConnected fires after a block is applied to the view.
	NTBlockConnected

	// NTBlockDisconnected fires after a block is undone from the view.
	NTBlockDisconnected

	// NTChainTipUpdated fires once per activation round with the new tip.
	NTChainTipUpdated
)

// Notification is a typed event with its payload.
type Notification struct {
	Type  NotificationType
	Block *model.Block
	Tx    *model.Tx
	Node  *BlockIndex
}

// NotificationCallback receives chain events. Callbacks run on the chain's
// goroutine and must not call back into the chain state.
type NotificationCallback func(*Notification)

// Subscribe registers a callback for all future events.
func (cs *ChainState) Subscribe(callback NotificationCallback) {
	cs.notificationsMtx.Lock()
	defer cs.notificationsMtx.Unlock()

	cs.notifications = append(cs.notifications, callback)
}

func (cs *ChainState) sendNotification(n *Notification) {
	cs.notificationsMtx.Lock()
	callbacks := cs.notifications
	cs.notificationsMtx.Unlock()

	for _, cb := range callbacks {
		cb(n)
	}
}
