package fulfillment

import "github.com/example/orderdesk/pkg/models"

// carrierStatuses maps Delhivery status strings, matched exactly, to the
// business status.
var carrierStatuses = map[string]models.OrderStatus{
	"Pickup Scheduled":           models.StatusProcessing,
	"Out For Pickup":             models.StatusProcessing,
	"Picked":                     models.StatusProcessing,
	"Shipped":                    models.StatusShipped,
	"In-Transit":                 models.StatusShipped,
	"Reached at Destination Hub": models.StatusShipped,
	"Out For Delivery":           models.StatusShipped,
	"Delivered":                  models.StatusDelivered,
	"Undelivered":                models.StatusProcessing,
}

// MapCarrierStatus returns the business status for a carrier status. It is
// total: anything unknown is Processing.
func MapCarrierStatus(status string) models.OrderStatus {
	if mapped, ok := carrierStatuses[status]; ok {
		return mapped
	}
	return models.StatusProcessing
}
