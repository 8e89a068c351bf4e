package core

// Exchange property names set by the runtime.
const (
	PropertyRouteStop           = "CamelRouteStop"
	PropertyFilterMatched       = "CamelFilterMatched"
	PropertyExceptionCaught     = "CamelExceptionCaught"
	PropertyFailureEndpoint     = "CamelFailureEndpoint"
	PropertyFailureRouteID      = "CamelFailureRouteId"
	PropertyErrorHandlerHandled = "CamelErrorHandlerHandled"
	PropertyToEndpoint          = "CamelToEndpoint"
	PropertyBatchIndex          = "CamelBatchIndex"
	PropertyBatchSize           = "CamelBatchSize"
	PropertyBatchComplete       = "CamelBatchComplete"
	PropertySchedulerPolled     = "CamelSchedulerPolledMessages"
)

// Message headers shared by several components.
const (
	HeaderRedelivered          = "CamelRedelivered"
	HeaderRedeliveryCounter    = "CamelRedeliveryCounter"
	HeaderRedeliveryMaxCounter = "CamelRedeliveryMaxCounter"

	HeaderTimerName      = "CamelTimerName"
	HeaderTimerFiredTime = "CamelTimerFiredTime"
	HeaderTimerCounter   = "CamelTimerCounter"
	HeaderTimerPeriod    = "CamelTimerPeriod"

	HeaderFileName         = "CamelFileName"
	HeaderFileNameOnly     = "CamelFileNameOnly"
	HeaderFileAbsolutePath = "CamelFileAbsolutePath"
	HeaderFileParent       = "CamelFileParent"
	HeaderFileLength       = "CamelFileLength"
	HeaderFileLastModified = "CamelFileLastModified"
	HeaderFileNameProduced = "CamelFileNameProduced"

	HeaderHTTPMethod       = "CamelHttpMethod"
	HeaderHTTPPath         = "CamelHttpPath"
	HeaderHTTPQuery        = "CamelHttpQuery"
	HeaderHTTPURI          = "CamelHttpUri"
	HeaderHTTPResponseCode = "CamelHttpResponseCode"
	HeaderHTTPResponseText = "CamelHttpResponseText"
	HeaderContentType      = "Content-Type"

	// HeaderBreadcrumbID carries the id of the request that created the exchange.
	HeaderBreadcrumbID = "breadcrumbId"
)
