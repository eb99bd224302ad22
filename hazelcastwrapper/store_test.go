package hazelcastwrapper

import (
	"context"
	"errors"
	"testing"
)

const (
	checkMark = "✓"
	ballotX   = "✗"
)

func TestUserObjectNames(t *testing.T) {

	t.Log("given a list of distributed object infos")
	{
		infos := []ObjectInfo{
			SimpleObjectInfo{Name: "ct_batteryStates", ServiceName: MapService},
			SimpleObjectInfo{Name: "__sql.catalog", ServiceName: MapService},
			SimpleObjectInfo{Name: "ct_batteryStates", ServiceName: QueueService},
			SimpleObjectInfo{Name: "devices", ServiceName: MapService},
		}

		t.Log("\twhen user objects of map service are requested")
		{
			names := UserObjectNames(infos, MapService)

			msg := "\t\tonly user-created maps must be returned"
			if len(names) == 2 && names[0] == "ct_batteryStates" && names[1] == "devices" {
				t.Log(msg, checkMark)
			} else {
				t.Fatal(msg, ballotX, names)
			}
		}

		t.Log("\twhen user objects of queue service are requested")
		{
			names := UserObjectNames(infos, QueueService)

			msg := "\t\tonly queue must be returned"
			if len(names) == 1 && names[0] == "ct_batteryStates" {
				t.Log(msg, checkMark)
			} else {
				t.Fatal(msg, ballotX, names)
			}
		}
	}

}

func TestStoresWithoutClient(t *testing.T) {

	t.Log("given stores whose hazelcast client has not been initialized")
	{
		t.Log("\twhen map is requested")
		{
			_, err := (&DefaultMapStore{}).GetMap(context.Background(), "ct_batteryStates")

			msg := "\t\tmissing client must be reported"
			if errors.Is(err, ErrNoClient) {
				t.Log(msg, checkMark)
			} else {
				t.Fatal(msg, ballotX, err)
			}
		}

		t.Log("\twhen queue is requested")
		{
			_, err := (&DefaultQueueStore{}).GetQueue(context.Background(), "ct_batteryStates")

			msg := "\t\tmissing client must be reported"
			if errors.Is(err, ErrNoClient) {
				t.Log(msg, checkMark)
			} else {
				t.Fatal(msg, ballotX, err)
			}
		}

		t.Log("\twhen distributed objects info is requested")
		{
			_, err := (&DefaultObjectInfoStore{}).GetDistributedObjectsInfo(context.Background())

			msg := "\t\tmissing client must be reported"
			if errors.Is(err, ErrNoClient) {
				t.Log(msg, checkMark)
			} else {
				t.Fatal(msg, ballotX, err)
			}
		}
	}

}
