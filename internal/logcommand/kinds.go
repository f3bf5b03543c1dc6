package logcommand

// Default Kinds dispatched by the Cluster Coordinator, per spec.md §9.
const (
	KindPeerBorn Kind = "peer-born"
	KindPeerDead Kind = "peer-dead"
	KindPlanJob  Kind = "plan-job"
	KindOffer    Kind = "offer"
	KindAck      Kind = "ack"
	KindComplete Kind = "complete"
)
