package realtime

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/qr-attendance-api/internal/models"
)

func change(table string) models.ChangeNotification {
	return models.ChangeNotification{Table: table, Op: models.ChangeInsert, RecordID: "r1", At: time.Now()}
}

func TestBrokerRoutesByTable(t *testing.T) {
	b := NewBroker(4, nil)
	students, cancelStudents := b.Subscribe(models.TableStudents)
	defer cancelStudents()
	all, cancelAll := b.Subscribe(AllTables)
	defer cancelAll()

	require.NoError(t, b.Publish(context.Background(), change(models.TableAttendanceEvents)))
	require.NoError(t, b.Publish(context.Background(), change(models.TableStudents)))

	got := <-students
	assert.Equal(t, models.TableStudents, got.Table)
	assert.Len(t, students, 0)

	assert.Equal(t, models.TableAttendanceEvents, (<-all).Table)
	assert.Equal(t, models.TableStudents, (<-all).Table)
}

func TestBrokerDropsWhenSubscriberIsFull(t *testing.T) {
	b := NewBroker(1, nil)
	ch, cancel := b.Subscribe(models.TableStudents)
	defer cancel()

	assert.Equal(t, 1, b.Deliver(change(models.TableStudents)))
	assert.Equal(t, 0, b.Deliver(change(models.TableStudents)))
	assert.Len(t, ch, 1)
}

func TestBrokerCancelClosesChannel(t *testing.T) {
	b := NewBroker(1, nil)
	ch, cancel := b.Subscribe(models.TableStudents)
	assert.Equal(t, 1, b.Subscribers(models.TableStudents))

	cancel()
	cancel()
	_, open := <-ch
	assert.False(t, open)
	assert.Equal(t, 0, b.Subscribers(models.TableStudents))
	assert.Equal(t, 0, b.Deliver(change(models.TableStudents)))
}

func TestRedisBridgeRelaySkipsOwnOrigin(t *testing.T) {
	b := NewBroker(4, nil)
	ch, cancel := b.Subscribe(models.TableStudents)
	defer cancel()
	bridge := NewRedisBridge(nil, "", b, nil)

	own := change(models.TableStudents)
	own.Origin = bridge.Origin()
	payload, err := json.Marshal(own)
	require.NoError(t, err)
	bridge.relay(string(payload))
	assert.Len(t, ch, 0)

	remote := change(models.TableStudents)
	remote.Origin = "other-instance"
	payload, err = json.Marshal(remote)
	require.NoError(t, err)
	bridge.relay(string(payload))
	require.Len(t, ch, 1)
	assert.Equal(t, "other-instance", (<-ch).Origin)

	bridge.relay("{not json")
	assert.Len(t, ch, 0)
}

func TestRedisBridgePublishDeliversLocallyWhenRedisIsDown(t *testing.T) {
	b := NewBroker(4, nil)
	ch, cancel := b.Subscribe(models.TableAttendanceEvents)
	defer cancel()
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", DialTimeout: 50 * time.Millisecond, MaxRetries: -1})
	defer client.Close() //nolint:errcheck
	bridge := NewRedisBridge(client, "test:changes", b, nil)

	err := bridge.Publish(context.Background(), change(models.TableAttendanceEvents))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "publish change notification")
	require.Len(t, ch, 1)
	assert.Equal(t, bridge.Origin(), (<-ch).Origin)
}
