// Package containers starts throwaway broker containers for integration
// tests using testcontainers-go.
//
// Integration tests carry the "integration" build tag and usually start one
// container per package in TestMain:
//
//	var broker *containers.Mosquitto
//
//	func TestMain(m *testing.M) {
//	    var err error
//	    broker, err = containers.StartMosquitto(context.Background())
//	    if err != nil {
//	        log.Fatal(err)
//	    }
//	    code := m.Run()
//	    _ = broker.Terminate(context.Background())
//	    os.Exit(code)
//	}
//
//	go test -tags=integration ./...
package containers
