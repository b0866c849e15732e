// Package devdisp implements the devdisp virtualized-display streaming
// protocol: a display source encodes screen content and streams it to a
// client device, which negotiates a decodable encoding up front and renders
// the received video.
//
// This package provides the client-side API facade that integrates the
// subsystems: the codec parameter registry, the capability prober and
// negotiation engine, the wire protocol and transports, and the connection
// state machine with its stream dispatch layer. The source side lives in
// the host subpackage; mDNS host discovery in the discovery subpackage.
//
// # Getting Started
//
// Create a Client with options and set up callbacks for events:
//
//	options := devdisp.NewOptions()
//	options.DeviceName = "Living Room Panel"
//	options.DeviceResolution = [2]uint32{1920, 1080}
//	options.Decoder = myDecoder // wraps the platform video decoder
//	options.Oracle = myOracle   // wraps isConfigSupported
//
//	client, err := devdisp.New(options)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	client.OnEncodingConfigured(func(accepted negotiation.Accepted) {
//	    fmt.Printf("streaming as %s\n", accepted.CodecString)
//	})
//	client.OnDisconnect(func(info session.DisconnectInfo) {
//	    if !info.Intentional {
//	        // reconnect policy goes here
//	    }
//	})
//
//	hosts, err := client.Discover(context.Background())
//	if err != nil || len(hosts) == 0 {
//	    log.Fatal("no display source found")
//	}
//	if err := client.Connect(hosts[0].Addr()); err != nil {
//	    log.Fatal(err)
//	}
//
// The source drives the rest: it probes the device, negotiates an encoding
// against the client's decode capability, commits one configuration and
// starts streaming. Received screen data reaches the configured Decoder.
package devdisp
