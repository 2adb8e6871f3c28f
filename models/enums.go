package models

type RequestKind string

const (
	RequestKindBorrow RequestKind = "Borrow"
	RequestKindReturn RequestKind = "Return"
	RequestKindRenew  RequestKind = "Renew"
)

func (k RequestKind) Valid() bool {
	switch k {
	case RequestKindBorrow, RequestKindReturn, RequestKindRenew:
		return true
	}
	return false
}

type RequestStatus string

const (
	RequestStatusPending  RequestStatus = "Pending"
	RequestStatusApproved RequestStatus = "Approved"
	RequestStatusRejected RequestStatus = "Rejected"
)

type ReservationStatus string

const (
	ReservationStatusPending   ReservationStatus = "Pending"
	ReservationStatusAvailable ReservationStatus = "Available"
	ReservationStatusExpired   ReservationStatus = "Expired"
	ReservationStatusCancelled ReservationStatus = "Cancelled"
	ReservationStatusFulfilled ReservationStatus = "Fulfilled"
)

type HistoryStatus string

const (
	HistoryStatusBorrowed HistoryStatus = "Borrowed"
	HistoryStatusReturned HistoryStatus = "Returned"
)

type NotificationKind string

const (
	NotificationKindReservationReady NotificationKind = "ReservationReady"
	NotificationKindRequestRejected  NotificationKind = "RequestRejected"
)
