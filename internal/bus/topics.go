package bus

// Alarm lifecycle topics.
const (
	TopicAlarmScheduled   = "alarm.scheduled"
	TopicAlarmFired       = "alarm.fired"
	TopicAlarmFailed      = "alarm.failed"
	TopicAlarmRescheduled = "alarm.rescheduled"
	TopicAlarmDeleted     = "alarm.deleted"
)

// Actor lifecycle topics.
const (
	TopicActorDestroyed = "actor.destroyed"
)

// AlarmEvent is the payload for every alarm.* topic.
type AlarmEvent struct {
	ActorID    string
	AlarmID    string
	Callback   string
	Identifier string
	Time       int64 // fire time; for alarm.rescheduled the new time
	Error      string
}

// ActorDestroyedEvent is published once an actor's storage has been dropped.
type ActorDestroyedEvent struct {
	ActorID string
}
