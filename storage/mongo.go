package storage

import (
	"SDM/configs"
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

type MongoDB struct {
	ctx          context.Context
	client       *mongo.Client
	participants *mongo.Collection
	queue        *mongo.Collection
	matches      *mongo.Collection
	histAccept   *mongo.Collection
	histRecent   *mongo.Collection
}

func (c *MongoDB) init() {
	var err error
	c.ctx = context.TODO()
	c.client, err = mongo.Connect(c.ctx, options.Client().ApplyURI(configs.MongoDBLink))
	if err != nil {
		panic(err)
	}
	err = c.client.Ping(c.ctx, readpref.Primary())
	if err != nil {
		panic(err)
	}
	db := c.client.Database("spindate")
	c.participants = db.Collection("participants")
	c.queue = db.Collection("queue_entries")
	c.matches = db.Collection("matches")
	c.histAccept = db.Collection("hist_accept")
	c.histRecent = db.Collection("hist_recent")
	_, err = c.queue.Indexes().CreateOne(c.ctx, mongo.IndexModel{
		Keys: bson.D{{"fairness", -1}, {"joined_at", 1}},
	})
	if err != nil {
		panic(err)
	}
}

/* participant rows */

func (c *MongoDB) PartCreateIfAbsent(pid uint64) {
	upsert := true
	_, _ = c.participants.UpdateOne(c.ctx, bson.M{"_id": pid},
		bson.M{"$setOnInsert": bson.M{"state": configs.StateIdle, "last_active": time.Now()}},
		&options.UpdateOptions{Upsert: &upsert})
}

func (c *MongoDB) PartCAS(pid uint64, from, to uint8) bool {
	res, err := c.participants.UpdateOne(c.ctx, bson.M{"_id": pid, "state": from},
		bson.M{"$set": bson.M{"state": to}})
	return err == nil && res.ModifiedCount == 1
}

func (c *MongoDB) PartSetMatch(pid uint64, matchID uint64) {
	_, _ = c.participants.UpdateOne(c.ctx, bson.M{"_id": pid},
		bson.M{"$set": bson.M{"match_id": matchID}})
}

func (c *MongoDB) PartTouch(pid uint64, now time.Time) {
	_, _ = c.participants.UpdateOne(c.ctx, bson.M{"_id": pid},
		bson.M{"$set": bson.M{"last_active": now}})
}

/* queue */

func (c *MongoDB) QueueJoin(pid uint64, prefs Prefs, now time.Time) {
	upsert := true
	_, _ = c.queue.UpdateOne(c.ctx, bson.M{"_id": pid},
		bson.M{"$setOnInsert": bson.M{
			"joined_at": now, "updated_at": now, "fairness": 0.0,
			"stage": 0, "skip_count": 0, "boost_accum": 0.0, "prefs": prefs,
		}},
		&options.UpdateOptions{Upsert: &upsert})
}

func (c *MongoDB) QueueRemove(pid uint64) {
	_, _ = c.queue.DeleteOne(c.ctx, bson.M{"_id": pid})
}

func (c *MongoDB) QueueBoost(pid uint64, now time.Time) {
	_, _ = c.queue.UpdateOne(c.ctx, bson.M{"_id": pid},
		bson.M{"$inc": bson.M{"boost_accum": configs.FairnessBoostValue},
			"$set": bson.M{"updated_at": now}})
}

func (c *MongoDB) QueueExpand(pid uint64, newStage int, now time.Time) {
	_, _ = c.queue.UpdateOne(c.ctx, bson.M{"_id": pid},
		bson.M{"$max": bson.M{"stage": newStage}, "$set": bson.M{"updated_at": now}})
}

func (c *MongoDB) QueueUpdateFairness(pid uint64, fairness float64, now time.Time) {
	_, _ = c.queue.UpdateOne(c.ctx, bson.M{"_id": pid},
		bson.M{"$set": bson.M{"fairness": fairness, "updated_at": now}})
}

/* matches */

func (c *MongoDB) MatchInsert(id uint64, a, b uint64, now time.Time) bool {
	lo, hi := a, b
	if lo > hi {
		lo, hi = hi, lo
	}
	_, err := c.matches.InsertOne(c.ctx, bson.M{
		"_id": id, "lo": lo, "hi": hi,
		"status": configs.MatchPaired, "created_at": now,
		"vote_lo": configs.VoteNone, "vote_hi": configs.VoteNone,
		"outcome": configs.OutcomeNone,
	})
	return err == nil
}

func (c *MongoDB) MatchSetStatus(id uint64, from, to uint8) bool {
	res, err := c.matches.UpdateOne(c.ctx, bson.M{"_id": id, "status": from},
		bson.M{"$set": bson.M{"status": to}})
	return err == nil && res.ModifiedCount == 1
}

func (c *MongoDB) MatchRecordVote(id uint64, pid uint64, vote uint8) {
	_, _ = c.matches.UpdateOne(c.ctx, bson.M{"_id": id, "lo": pid},
		bson.M{"$set": bson.M{"vote_lo": vote}})
	_, _ = c.matches.UpdateOne(c.ctx, bson.M{"_id": id, "hi": pid},
		bson.M{"$set": bson.M{"vote_hi": vote}})
}

func (c *MongoDB) MatchSetOutcome(id uint64, outcome uint8) {
	_, _ = c.matches.UpdateOne(c.ctx, bson.M{"_id": id},
		bson.M{"$set": bson.M{"outcome": outcome, "status": configs.MatchEnded}})
}

func (c *MongoDB) MatchDelete(id uint64) {
	_, _ = c.matches.DeleteOne(c.ctx, bson.M{"_id": id})
}

/* history */

func (c *MongoDB) RecordMutualAccept(a, b uint64) {
	lo, hi := a, b
	if lo > hi {
		lo, hi = hi, lo
	}
	upsert := true
	_, _ = c.histAccept.UpdateOne(c.ctx, bson.M{"_id": configs.PairHash(lo, hi)},
		bson.M{"$setOnInsert": bson.M{"lo": lo, "hi": hi}},
		&options.UpdateOptions{Upsert: &upsert})
}

func (c *MongoDB) RecordPairing(a, b uint64, now time.Time) {
	lo, hi := a, b
	if lo > hi {
		lo, hi = hi, lo
	}
	upsert := true
	_, _ = c.histRecent.UpdateOne(c.ctx, bson.M{"_id": configs.PairHash(lo, hi)},
		bson.M{"$set": bson.M{"lo": lo, "hi": hi, "paired_at": now}},
		&options.UpdateOptions{Upsert: &upsert})
}

func (c *MongoDB) PruneCooldown(before time.Time) {
	_, _ = c.histRecent.DeleteMany(c.ctx, bson.M{"paired_at": bson.M{"$lt": before}})
}
