// Package mongo implements store.Store on MongoDB with the official v2
// driver. Suitable for deployments that already run a replica set and want
// the ledger next to the rest of their documents.
//
// The caller owns the client lifecycle -- mongo never closes it. Pass the
// database handle through the constructor:
//
//	client, _ := mongod.Connect(options.Client().ApplyURI(uri))
//	s := mongo.New(client.Database("taskrun"))
//	if err := s.Migrate(ctx); err != nil { ... }
//
// TryClaim is a filtered upsert on the marker's _id. When the stored attempt
// lies inside the window the filter misses, the upsert collides with the
// existing _id, and the duplicate-key error is reported as AlreadyClaimed.
package mongo
