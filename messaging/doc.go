// Package messaging implements the producer-side delivery contracts on top of RabbitMQ.
//
// This package implements:
//   - Producer: Entry point for every publish, RPC and scheduling operation
//   - EnvelopeBuilder: Turns a body and publish options into broker metadata
//   - Channel: A broker channel owned by one operation, with its pending-reply table
//   - RPC correlation: Blocking Call, and Append/DrainAll for batches sharing one deadline
//   - Delayed delivery: Self-expiring queues that dead-letter into the target exchange
//
// Example usage:
//
//	producer, err := messaging.NewProducer(manager, messaging.WithAppPrefix("shop."))
//
//	// Fire and forget
//	err = producer.PublishFireAndForget(ctx, "mail.send", mail)
//
//	// RPC
//	reply, err := producer.Call(ctx, "price.quote", req, messaging.WithTTL(5*time.Second))
//	var quote Quote
//	err = reply.Decode(&quote)
//
//	// Batched RPC
//	ch, err := producer.OpenRPCChannel(ctx, len(items))
//	for _, item := range items {
//		producer.Append(ctx, ch, "price.quote", item, collect)
//	}
//	err = producer.DrainAll(ctx, ch, 10*time.Second)
//
//	// Delayed delivery
//	_, err = producer.ScheduleDelayed(ctx, "orders", "ship", order, time.Now().Add(time.Hour))
package messaging
